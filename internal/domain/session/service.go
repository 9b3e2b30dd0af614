// Package session owns the lifecycle of authenticated sessions. Redis holds
// the live sessions and is the source of truth for whether a token is
// usable; the gorm audit table records what happened to every session.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"gorm.io/gorm"

	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/domain/device"
	"github.com/Anvoria/loginguard/internal/events"
	"github.com/Anvoria/loginguard/internal/geo"
	"github.com/Anvoria/loginguard/internal/metrics"
)

const (
	tokenBytes = 48
	// base64 raw URL length of tokenBytes
	tokenLength = 64

	cleanupBatchSize = 500
)

// Service is the session manager
type Service interface {
	CreateSession(ctx context.Context, req CreateRequest) (*CreateResult, error)
	ValidateSession(ctx context.Context, token string) (*ValidationResult, error)
	RevokeSession(ctx context.Context, sessionID, reason string) error
	RevokeAllSessions(ctx context.Context, userID, exceptSessionID, reason string) (int, error)
	GetActiveSessions(ctx context.Context, userID string) ([]Info, error)
	GetSessionHistory(ctx context.Context, userID string, limit int) ([]Session, error)
	CleanupExpiredSessions(ctx context.Context) (int, error)
	// Wait blocks until background audit writes and event publishes finish
	Wait()
}

// Options configures the collaborators of the session service. Nil
// collaborators fall back to no-op implementations.
type Options struct {
	Config    config.SessionConfig
	Locator   geo.Locator
	Publisher events.Publisher
	Now       func() time.Time
}

type service struct {
	store     Store
	repo      Repository
	locator   geo.Locator
	publisher events.Publisher

	lifetime     time.Duration
	maxSessions  int
	touchTimeout time.Duration
	nowF         func() time.Time

	locks *userLocks
	bg    sync.WaitGroup
}

// NewService creates the session manager over a fast store and an audit repository
func NewService(store Store, repo Repository, opts Options) Service {
	s := &service{
		store:        store,
		repo:         repo,
		locator:      opts.Locator,
		publisher:    opts.Publisher,
		lifetime:     opts.Config.LifetimeDuration(),
		maxSessions:  opts.Config.MaxConcurrent,
		touchTimeout: opts.Config.TouchTimeoutDuration(),
		nowF:         opts.Now,
		locks:        newUserLocks(),
	}
	if s.locator == nil {
		s.locator = geo.NopLocator{}
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.maxSessions < 1 {
		s.maxSessions = 1
	}
	if s.nowF == nil {
		s.nowF = time.Now
	}
	return s
}

func (s *service) now() time.Time {
	return s.nowF().UTC()
}

// generateToken returns an unpredictable bearer token
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken hashes the token using SHA-3-256 for the audit row
func hashToken(token string) string {
	h := sha3.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

func validToken(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	return strings.IndexFunc(token, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_')
	}) < 0
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// background runs fn after the request returns; failures are only logged by fn
func (s *service) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *service) Wait() {
	s.bg.Wait()
}

func (s *service) publish(evt events.Event) {
	s.background(func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			slog.Warn("Failed to publish security event", "type", evt.Type, "user_id", evt.UserID, "error", err)
		}
	})
}

// CreateSession evicts the oldest sessions over the cap, then writes the new
// session to the fast store and the audit store
func (s *service) CreateSession(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if _, err := uuid.Parse(req.UserID); err != nil {
		return nil, fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	unlock := s.locks.lock(req.UserID)
	defer unlock()

	sessionID := uuid.New()
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	active, err := s.activeEntries(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	var kicked []string
	if len(active) >= s.maxSessions {
		for _, e := range active[:len(active)-s.maxSessions+1] {
			if err := s.revokeEntry(ctx, e, ReasonMaxSessions); err != nil {
				return nil, err
			}
			kicked = append(kicked, e.info.SessionID)
		}
	}

	dev := device.Derive(req.UserAgent, req.NetworkAddress)
	fingerprint := req.DeviceFingerprint
	if fingerprint == "" {
		fingerprint = dev.Fingerprint
	}
	loc := s.locator.Lookup(ctx, req.NetworkAddress)

	now := s.now()
	expiresAt := now.Add(s.lifetime)
	info := &Info{
		SessionID:         sessionID.String(),
		UserID:            req.UserID,
		DeviceFingerprint: fingerprint,
		DeviceName:        dev.Name,
		DeviceType:        string(dev.Type),
		Browser:           dev.Browser,
		OS:                dev.OS,
		NetworkAddress:    req.NetworkAddress,
		Country:           loc.Country,
		City:              loc.City,
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		TrustedDevice:     req.TrustedDevice,
		MFAVerified:       req.MFAVerified,
		CreatedAt:         now,
		LastActivityAt:    now,
	}

	if err := s.store.Put(ctx, token, info, s.lifetime); err != nil {
		return nil, storeError("write session", err)
	}

	row := &Session{
		UserID:            req.UserID,
		TokenHash:         hashToken(token),
		DeviceFingerprint: fingerprint,
		DeviceName:        dev.Name,
		DeviceType:        string(dev.Type),
		Browser:           dev.Browser,
		OS:                dev.OS,
		IPAddress:         req.NetworkAddress,
		Country:           loc.Country,
		City:              loc.City,
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		MFAVerified:       req.MFAVerified,
		TrustedDevice:     req.TrustedDevice,
		LastActivityAt:    now,
		ExpiresAt:         expiresAt,
	}
	row.ID = sessionID
	row.CreatedAt = now

	if err := s.repo.Create(ctx, row); err != nil {
		// the live session must not outlive a missing audit record
		if rbErr := s.store.Delete(ctx, req.UserID, token); rbErr != nil {
			slog.Error("Failed to roll back session after audit write failure",
				"user_id", req.UserID, "session_id", info.SessionID, "error", rbErr)
		}
		return nil, storeError("write audit record", err)
	}

	metrics.SessionCreated()
	slog.Info("Session created", "user_id", req.UserID, "session_id", info.SessionID, "kicked", len(kicked))

	return &CreateResult{
		SessionID:        info.SessionID,
		Token:            token,
		ExpiresAt:        expiresAt,
		KickedSessionIDs: kicked,
	}, nil
}

// ValidateSession resolves a token and records activity on it
func (s *service) ValidateSession(ctx context.Context, token string) (*ValidationResult, error) {
	if !validToken(token) {
		return &ValidationResult{Valid: false}, ErrInvalidInput
	}

	now := s.now()
	info, err := s.store.Touch(ctx, token, now)
	if err != nil {
		return nil, storeError("touch session", err)
	}
	if info == nil {
		return &ValidationResult{Valid: false}, nil
	}

	if id, err := uuid.Parse(info.SessionID); err == nil {
		at := info.LastActivityAt
		s.background(func(ctx context.Context) {
			if err := s.repo.UpdateLastActivity(ctx, id, at); err != nil {
				slog.Warn("Failed to persist session activity", "session_id", id.String(), "error", err)
			}
		})
	}

	return &ValidationResult{
		Valid:       true,
		UserID:      info.UserID,
		MFAVerified: info.MFAVerified,
		Session:     info,
	}, nil
}

// RevokeSession is idempotent; unknown and already revoked sessions are a no-op
func (s *service) RevokeSession(ctx context.Context, sessionID, reason string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("%w: session id", ErrInvalidInput)
	}
	if reason == "" {
		reason = ReasonRevoked
	}

	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return storeError("load session", err)
	}

	tokens, err := s.store.IndexTokens(ctx, row.UserID)
	if err != nil {
		return storeError("read session index", err)
	}
	ids, err := s.store.SessionIDs(ctx, tokens)
	if err != nil {
		return storeError("read sessions", err)
	}

	var stale []string
	for i, token := range tokens {
		switch ids[i] {
		case sessionID:
			if err := s.store.Delete(ctx, row.UserID, token); err != nil {
				return storeError("delete session", err)
			}
		case "":
			stale = append(stale, token)
		}
	}
	s.pruneIndex(ctx, row.UserID, stale)

	return s.markRevoked(ctx, row.UserID, id, reason, row.IPAddress)
}

// RevokeAllSessions revokes every live session of the user except one
func (s *service) RevokeAllSessions(ctx context.Context, userID, exceptSessionID, reason string) (int, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return 0, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	if reason == "" {
		reason = ReasonLogoutAll
	}

	active, err := s.activeEntries(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range active {
		if e.info.SessionID == exceptSessionID {
			continue
		}
		if err := s.revokeEntry(ctx, e, reason); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		slog.Info("Revoked user sessions", "user_id", userID, "count", count, "reason", reason)
	}
	return count, nil
}

// GetActiveSessions lists live sessions ordered by creation time, pruning
// index entries whose session has already expired from the fast store
func (s *service) GetActiveSessions(ctx context.Context, userID string) ([]Info, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: user id", ErrInvalidInput)
	}

	active, err := s.activeEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Info, len(active))
	for i, e := range active {
		out[i] = *e.info
	}
	return out, nil
}

// GetSessionHistory returns audit rows for the user, newest first
func (s *service) GetSessionHistory(ctx context.Context, userID string, limit int) ([]Session, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	sessions, err := s.repo.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, storeError("load session history", err)
	}
	return sessions, nil
}

// CleanupExpiredSessions revokes audit rows past their expiry and removes
// whatever is left of them in the fast store
func (s *service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	now := s.now()
	total := 0

	for {
		expired, err := s.repo.FindExpired(ctx, now, cleanupBatchSize)
		if err != nil {
			return total, storeError("find expired sessions", err)
		}
		if len(expired) == 0 {
			return total, nil
		}

		byUser := make(map[string]map[string]bool)
		for _, sess := range expired {
			if byUser[sess.UserID] == nil {
				byUser[sess.UserID] = make(map[string]bool)
			}
			byUser[sess.UserID][sess.ID.String()] = true
		}

		for userID, sessionIDs := range byUser {
			if err := s.purgeFastStore(ctx, userID, sessionIDs); err != nil {
				return total, err
			}
		}

		// Rows revoked concurrently by a logout or eviction already had their event.
		for _, sess := range expired {
			ok, err := s.repo.Revoke(ctx, sess.ID, ReasonExpired, now)
			if err != nil {
				return total, storeError("revoke expired session", err)
			}
			if !ok {
				continue
			}
			total++
			metrics.SessionRevoked(ReasonExpired)
			s.publish(events.Event{
				Type:       events.SessionExpired,
				UserID:     sess.UserID,
				SessionID:  sess.ID.String(),
				Reason:     ReasonExpired,
				OccurredAt: now,
			})
		}

		if len(expired) < cleanupBatchSize {
			if total > 0 {
				slog.Info("Expired sessions cleaned up", "count", total)
			}
			return total, nil
		}
	}
}

// purgeFastStore drops the given sessions and any stale index entries of a user
func (s *service) purgeFastStore(ctx context.Context, userID string, sessionIDs map[string]bool) error {
	tokens, err := s.store.IndexTokens(ctx, userID)
	if err != nil {
		return storeError("read session index", err)
	}
	ids, err := s.store.SessionIDs(ctx, tokens)
	if err != nil {
		return storeError("read sessions", err)
	}

	var doomed, stale []string
	for i, token := range tokens {
		switch {
		case ids[i] == "":
			stale = append(stale, token)
		case sessionIDs[ids[i]]:
			doomed = append(doomed, token)
		}
	}

	if err := s.store.Delete(ctx, userID, doomed...); err != nil {
		return storeError("delete sessions", err)
	}
	s.pruneIndex(ctx, userID, stale)
	return nil
}

type entry struct {
	token string
	info  *Info
}

// activeEntries reads the user's index, drops entries whose hash is gone and
// returns the rest ordered by (createdAt, sessionId)
func (s *service) activeEntries(ctx context.Context, userID string) ([]entry, error) {
	tokens, err := s.store.IndexTokens(ctx, userID)
	if err != nil {
		return nil, storeError("read session index", err)
	}
	infos, err := s.store.Load(ctx, tokens)
	if err != nil {
		return nil, storeError("read sessions", err)
	}

	var (
		active []entry
		stale  []string
	)
	for i, token := range tokens {
		if infos[i] == nil {
			stale = append(stale, token)
			continue
		}
		active = append(active, entry{token: token, info: infos[i]})
	}
	s.pruneIndex(ctx, userID, stale)

	slices.SortFunc(active, func(a, b entry) int {
		if c := a.info.CreatedAt.Compare(b.info.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.info.SessionID, b.info.SessionID)
	})
	return active, nil
}

func (s *service) pruneIndex(ctx context.Context, userID string, stale []string) {
	if len(stale) == 0 {
		return
	}
	if err := s.store.Unindex(ctx, userID, stale...); err != nil {
		slog.Warn("Failed to prune stale session index entries", "user_id", userID, "error", err)
		return
	}
	slog.Debug("Pruned stale session index entries", "user_id", userID, "count", len(stale))
}

// revokeEntry removes a live session from the fast store and marks its audit row
func (s *service) revokeEntry(ctx context.Context, e entry, reason string) error {
	if err := s.store.Delete(ctx, e.info.UserID, e.token); err != nil {
		return storeError("delete session", err)
	}
	id, err := uuid.Parse(e.info.SessionID)
	if err != nil {
		slog.Warn("Live session has malformed id", "user_id", e.info.UserID, "session_id", e.info.SessionID)
		return nil
	}
	return s.markRevoked(ctx, e.info.UserID, id, reason, e.info.NetworkAddress)
}

func (s *service) markRevoked(ctx context.Context, userID string, id uuid.UUID, reason, networkAddress string) error {
	now := s.now()
	revoked, err := s.repo.Revoke(ctx, id, reason, now)
	if err != nil {
		return storeError("mark session revoked", err)
	}
	if !revoked {
		return nil
	}

	metrics.SessionRevoked(reason)
	slog.Info("Session revoked", "user_id", userID, "session_id", id.String(), "reason", reason)

	evtType := events.SessionRevoked
	if reason == ReasonMaxSessions {
		evtType = events.SessionEvicted
	}
	s.publish(events.Event{
		Type:           evtType,
		UserID:         userID,
		SessionID:      id.String(),
		Reason:         reason,
		NetworkAddress: networkAddress,
		OccurredAt:     now,
	})
	return nil
}
