package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Type:       SessionEvicted,
		UserID:     "user-1",
		SessionID:  "sess-1",
		Reason:     "max_sessions",
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)

	msg := fw.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "session.evicted", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, SessionEvicted, decoded.Type)
	assert.Equal(t, "max_sessions", decoded.Reason)
	assert.True(t, at.Equal(decoded.OccurredAt))
}

func TestKafkaPublisher_StampsTime(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), Event{Type: LoginDenied, UserID: "u"}))

	var decoded Event
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &decoded))
	assert.False(t, decoded.OccurredAt.IsZero())
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(fw)

	err := p.Publish(context.Background(), Event{Type: LoginBlocked, UserID: "u"})
	assert.EqualError(t, err, "broker down")

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
}
