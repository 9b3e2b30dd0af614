package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "session:"
	userIndexKeyPrefix = "user:sessions:"
)

// Hash field names of session:{token}
const (
	fieldSessionID         = "sessionId"
	fieldUserID            = "userId"
	fieldDeviceFingerprint = "deviceFingerprint"
	fieldDeviceName        = "deviceName"
	fieldDeviceType        = "deviceType"
	fieldBrowser           = "browser"
	fieldOS                = "os"
	fieldNetworkAddress    = "networkAddress"
	fieldCountry           = "country"
	fieldCity              = "city"
	fieldLatitude          = "latitude"
	fieldLongitude         = "longitude"
	fieldTrustedDevice     = "isTrustedDevice"
	fieldMFAVerified       = "mfaVerified"
	fieldCreatedAt         = "createdAt"
	fieldLastActivityAt    = "lastActivityAt"
)

func sessionKey(token string) string { return sessionKeyPrefix + token }

func userIndexKey(userID string) string { return userIndexKeyPrefix + userID }

// Store is the fast store holding live sessions and the per-user index
type Store interface {
	Put(ctx context.Context, token string, info *Info, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Info, error)
	Touch(ctx context.Context, token string, at time.Time) (*Info, error)
	Delete(ctx context.Context, userID string, tokens ...string) error
	IndexTokens(ctx context.Context, userID string) ([]string, error)
	SessionIDs(ctx context.Context, tokens []string) ([]string, error)
	Load(ctx context.Context, tokens []string) ([]*Info, error)
	Unindex(ctx context.Context, userID string, tokens ...string) error
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates the Redis backed fast store
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

// touchScript moves lastActivityAt forward only and returns the hash, or an
// empty array when the session does not exist
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {}
end
local current = tonumber(redis.call('HGET', KEYS[1], 'lastActivityAt') or '0') or 0
if tonumber(ARGV[1]) > current then
  redis.call('HSET', KEYS[1], 'lastActivityAt', ARGV[1])
end
return redis.call('HGETALL', KEYS[1])
`)

func (s *redisStore) Put(ctx context.Context, token string, info *Info, ttl time.Duration) error {
	key := sessionKey(token)
	index := userIndexKey(info.UserID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, toHash(info))
		pipe.Expire(ctx, key, ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(info.CreatedAt.UnixMilli()), Member: token})
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	return err
}

// Get returns nil without an error when the session does not exist
func (s *redisStore) Get(ctx context.Context, token string) (*Info, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fromHash(fields), nil
}

func (s *redisStore) Touch(ctx context.Context, token string, at time.Time) (*Info, error) {
	res, err := touchScript.Run(ctx, s.client, []string{sessionKey(token)},
		strconv.FormatInt(at.UnixMilli(), 10)).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return fromHash(fields), nil
}

func (s *redisStore) Delete(ctx context.Context, userID string, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	members := make([]any, len(tokens))
	for i, t := range tokens {
		keys[i] = sessionKey(t)
		members[i] = t
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, userIndexKey(userID), members...)
		return nil
	})
	return err
}

// IndexTokens returns the user's tokens ordered by creation time
func (s *redisStore) IndexTokens(ctx context.Context, userID string) ([]string, error) {
	return s.client.ZRange(ctx, userIndexKey(userID), 0, -1).Result()
}

// SessionIDs returns the session id stored under each token, "" for missing hashes
func (s *redisStore) SessionIDs(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringCmd, len(tokens))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, t := range tokens {
			cmds[i] = pipe.HGet(ctx, sessionKey(t), fieldSessionID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	ids := make([]string, len(tokens))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		ids[i] = v
	}
	return ids, nil
}

// Load returns the hash behind each token, nil for missing ones
func (s *redisStore) Load(ctx context.Context, tokens []string) ([]*Info, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, t := range tokens {
			cmds[i] = pipe.HGetAll(ctx, sessionKey(t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Info, len(tokens))
	for i, cmd := range cmds {
		if fields := cmd.Val(); len(fields) > 0 {
			out[i] = fromHash(fields)
		}
	}
	return out, nil
}

func (s *redisStore) Unindex(ctx context.Context, userID string, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	members := make([]any, len(tokens))
	for i, t := range tokens {
		members[i] = t
	}
	return s.client.ZRem(ctx, userIndexKey(userID), members...).Err()
}

func toHash(info *Info) map[string]any {
	return map[string]any{
		fieldSessionID:         info.SessionID,
		fieldUserID:            info.UserID,
		fieldDeviceFingerprint: info.DeviceFingerprint,
		fieldDeviceName:        info.DeviceName,
		fieldDeviceType:        info.DeviceType,
		fieldBrowser:           info.Browser,
		fieldOS:                info.OS,
		fieldNetworkAddress:    info.NetworkAddress,
		fieldCountry:           info.Country,
		fieldCity:              info.City,
		fieldLatitude:          formatCoordinate(info.Latitude),
		fieldLongitude:         formatCoordinate(info.Longitude),
		fieldTrustedDevice:     formatFlag(info.TrustedDevice),
		fieldMFAVerified:       formatFlag(info.MFAVerified),
		fieldCreatedAt:         strconv.FormatInt(info.CreatedAt.UnixMilli(), 10),
		fieldLastActivityAt:    strconv.FormatInt(info.LastActivityAt.UnixMilli(), 10),
	}
}

func fromHash(fields map[string]string) *Info {
	return &Info{
		SessionID:         fields[fieldSessionID],
		UserID:            fields[fieldUserID],
		DeviceFingerprint: fields[fieldDeviceFingerprint],
		DeviceName:        fields[fieldDeviceName],
		DeviceType:        fields[fieldDeviceType],
		Browser:           fields[fieldBrowser],
		OS:                fields[fieldOS],
		NetworkAddress:    fields[fieldNetworkAddress],
		Country:           fields[fieldCountry],
		City:              fields[fieldCity],
		Latitude:          parseCoordinate(fields[fieldLatitude]),
		Longitude:         parseCoordinate(fields[fieldLongitude]),
		TrustedDevice:     fields[fieldTrustedDevice] == "1",
		MFAVerified:       fields[fieldMFAVerified] == "1",
		CreatedAt:         parseMillis(fields[fieldCreatedAt]),
		LastActivityAt:    parseMillis(fields[fieldLastActivityAt]),
	}
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseCoordinate(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
