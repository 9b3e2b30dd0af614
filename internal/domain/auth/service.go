// Package auth ties credential checks, new-login detection and session
// creation together and exposes them over HTTP.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anvoria/loginguard/internal/domain/device"
	"github.com/Anvoria/loginguard/internal/domain/login"
	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/domain/user"
)

// LoginStatus tells the client what to do next
type LoginStatus string

const (
	StatusAuthenticated        LoginStatus = "authenticated"
	StatusConfirmationRequired LoginStatus = "confirmation_required"
)

// LoginResult is returned by Login and CompleteLogin
type LoginResult struct {
	Status             LoginStatus `json:"status"`
	UserID             string      `json:"user_id"`
	SessionID          string      `json:"session_id,omitempty"`
	Token              string      `json:"token,omitempty"`
	ExpiresAt          *time.Time  `json:"expires_at,omitempty"`
	KickedSessionIDs   []string    `json:"kicked_session_ids,omitempty"`
	RequiresMFA        bool        `json:"requires_mfa"`
	RiskLevel          risk.Level  `json:"risk_level,omitempty"`
	ChallengeID        string      `json:"challenge_id,omitempty"`
	ChallengeExpiresAt *time.Time  `json:"challenge_expires_at,omitempty"`
	// ClaimToken collects the session once the challenge is approved
	ClaimToken         string      `json:"claim_token,omitempty"`
}

// AuthService is the login orchestration used by the HTTP handlers
type AuthService interface {
	Register(ctx context.Context, req user.RegisterRequest) (*user.User, error)
	Login(ctx context.Context, username, password, userAgent, ip string) (*LoginResult, error)
	ConfirmLogin(ctx context.Context, token string, approve bool) error
	CompleteLogin(ctx context.Context, challengeID, claimToken string) (*LoginResult, error)
	KnownDevices(ctx context.Context, userID string) ([]risk.KnownDevice, error)
}

// Service handles authentication operations
type Service struct {
	Users    user.Service
	Sessions session.Service
	Detector login.Detector
}

// NewService creates a new auth service
func NewService(users user.Service, sessions session.Service, detector login.Detector) *Service {
	return &Service{
		Users:    users,
		Sessions: sessions,
		Detector: detector,
	}
}

func (s *Service) Register(ctx context.Context, req user.RegisterRequest) (*user.User, error) {
	return s.Users.Register(ctx, req)
}

// Login verifies credentials, runs new-login detection and either creates a
// session or hands back a pending confirmation
func (s *Service) Login(ctx context.Context, username, password, userAgent, ip string) (*LoginResult, error) {
	u, err := s.Users.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	userID := u.ID.String()
	req := login.Request{
		UserID:            userID,
		NetworkAddress:    ip,
		DeviceFingerprint: device.Fingerprint(userAgent, ip),
		UserAgent:         userAgent,
	}

	det, err := s.Detector.DetectNewLogin(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate login: %w", err)
	}

	if det.Blocked {
		return nil, ErrLoginBlocked
	}

	if det.RequiresConfirmation {
		return &LoginResult{
			Status:             StatusConfirmationRequired,
			UserID:             userID,
			RequiresMFA:        det.RequiresMFA,
			RiskLevel:          det.Assessment.Level,
			ChallengeID:        det.ChallengeID,
			ChallengeExpiresAt: det.ChallengeExpiresAt,
			ClaimToken:         det.ClaimToken,
		}, nil
	}

	result, err := s.createSession(ctx, session.CreateRequest{
		UserID:            userID,
		DeviceFingerprint: req.DeviceFingerprint,
		NetworkAddress:    ip,
		UserAgent:         userAgent,
		TrustedDevice:     det.Assessment.TrustedDevice,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Detector.RecordSuccess(ctx, req, det.Assessment); err != nil {
		slog.Warn("Failed to record successful login", "user_id", userID, "error", err)
	}

	result.RequiresMFA = det.RequiresMFA
	result.RiskLevel = det.Assessment.Level
	return result, nil
}

// ConfirmLogin records the user's answer to a challenge. It never creates
// a session: whoever holds the emailed link is not the client logging in.
func (s *Service) ConfirmLogin(ctx context.Context, token string, approve bool) error {
	_, err := s.Detector.ConfirmLogin(ctx, token, approve)
	return err
}

// CompleteLogin creates the session for an approved challenge on behalf of
// the client that started the login
func (s *Service) CompleteLogin(ctx context.Context, challengeID, claimToken string) (*LoginResult, error) {
	conf, err := s.Detector.CompleteLogin(ctx, challengeID, claimToken)
	if err != nil {
		if errors.Is(err, login.ErrLoginDenied) {
			return nil, ErrLoginDenied
		}
		return nil, err
	}

	return s.createSession(ctx, session.CreateRequest{
		UserID:            conf.UserID,
		DeviceFingerprint: conf.DeviceFingerprint,
		NetworkAddress:    conf.NetworkAddress,
		UserAgent:         conf.UserAgent,
		TrustedDevice:     true,
	})
}

// KnownDevices lists the devices the user has logged in from
func (s *Service) KnownDevices(ctx context.Context, userID string) ([]risk.KnownDevice, error) {
	return s.Detector.KnownDevices(ctx, userID)
}

func (s *Service) createSession(ctx context.Context, req session.CreateRequest) (*LoginResult, error) {
	res, err := s.Sessions.CreateSession(ctx, req)
	if err != nil {
		slog.Error("Failed to create session", "user_id", req.UserID, "error", err)
		return nil, ErrSessionNotEstablished
	}

	if len(res.KickedSessionIDs) > 0 {
		s.Detector.NotifyEviction(ctx, login.Request{
			UserID:            req.UserID,
			NetworkAddress:    req.NetworkAddress,
			DeviceFingerprint: req.DeviceFingerprint,
			UserAgent:         req.UserAgent,
		}, res.KickedSessionIDs)
	}

	expires := res.ExpiresAt
	return &LoginResult{
		Status:           StatusAuthenticated,
		UserID:           req.UserID,
		SessionID:        res.SessionID,
		Token:            res.Token,
		ExpiresAt:        &expires,
		KickedSessionIDs: res.KickedSessionIDs,
	}, nil
}
