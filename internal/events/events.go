// Package events publishes security events (revocations, denied and blocked
// logins) to a stream for downstream auditing.
package events

import (
	"context"
	"time"
)

// Type identifies a security event
type Type string

const (
	SessionRevoked Type = "session.revoked"
	SessionEvicted Type = "session.evicted"
	SessionExpired Type = "session.expired"
	LoginChallenge Type = "login.challenged"
	LoginDenied    Type = "login.denied"
	LoginBlocked   Type = "login.blocked"
)

// Event is the JSON payload written to the stream
type Event struct {
	Type           Type      `json:"type"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	NetworkAddress string    `json:"network_address,omitempty"`
	RiskScore      *int      `json:"risk_score,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher writes security events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
