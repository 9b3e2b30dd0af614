// Package login decides whether a login is novel, scores it and runs the
// out-of-band confirmation workflow for novel logins.
package login

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"gorm.io/gorm"

	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/domain/device"
	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/events"
	"github.com/Anvoria/loginguard/internal/geo"
	"github.com/Anvoria/loginguard/internal/metrics"
	"github.com/Anvoria/loginguard/internal/notify"
)

const (
	challengeTokenBytes = 32
	// base64 raw URL length of challengeTokenBytes
	challengeTokenLength = 43

	notifyTimeout = 10 * time.Second
)

// Recipients resolves the email address notifications for a user go to
type Recipients interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// Request describes a login whose credentials were already verified
type Request struct {
	UserID            string
	NetworkAddress    string
	DeviceFingerprint string
	UserAgent         string
}

// Detection is the outcome of DetectNewLogin
type Detection struct {
	IsNewLogin           bool             `json:"is_new_login"`
	NewDevice            bool             `json:"new_device"`
	NewNetwork           bool             `json:"new_network"`
	Assessment           *risk.Assessment `json:"risk_assessment"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	RequiresMFA          bool             `json:"requires_mfa"`
	Blocked              bool             `json:"blocked"`
	ChallengeID          string           `json:"challenge_id,omitempty"`
	ChallengeExpiresAt   *time.Time       `json:"challenge_expires_at,omitempty"`
	// ClaimToken is handed only to the client that started the login
	ClaimToken           string           `json:"-"`
}

// Confirmation is the outcome of answering a challenge
type Confirmation struct {
	Approved          bool
	UserID            string
	DeviceFingerprint string
	NetworkAddress    string
	UserAgent         string
}

// Detector is the new-login detector
type Detector interface {
	DetectNewLogin(ctx context.Context, req Request) (*Detection, error)
	RecordSuccess(ctx context.Context, req Request, assessment *risk.Assessment) error
	ConfirmLogin(ctx context.Context, token string, approve bool) (*Confirmation, error)
	CompleteLogin(ctx context.Context, challengeID, claimToken string) (*Confirmation, error)
	TrustDevice(ctx context.Context, userID, fingerprint, networkAddress, userAgent string) error
	KnownDevices(ctx context.Context, userID string) ([]risk.KnownDevice, error)
	NotifyEviction(ctx context.Context, req Request, evicted []string)
	PruneChallenges(ctx context.Context) (int64, error)
	// Wait blocks until queued notifications and events are handed off
	Wait()
}

// Options configures the collaborators of the detector. Nil collaborators
// fall back to no-op implementations.
type Options struct {
	Config     config.LoginConfig
	Dispatcher notify.Dispatcher
	Recipients Recipients
	Locator    geo.Locator
	Publisher  events.Publisher
	Now        func() time.Time
}

type detector struct {
	analyzer   risk.Analyzer
	repo       Repository
	dispatcher notify.Dispatcher
	recipients Recipients
	locator    geo.Locator
	publisher  events.Publisher

	challengeTTL   time.Duration
	confirmBaseURL string
	nowF           func() time.Time

	bg sync.WaitGroup
}

// NewDetector creates a new-login detector
func NewDetector(analyzer risk.Analyzer, repo Repository, opts Options) Detector {
	d := &detector{
		analyzer:       analyzer,
		repo:           repo,
		dispatcher:     opts.Dispatcher,
		recipients:     opts.Recipients,
		locator:        opts.Locator,
		publisher:      opts.Publisher,
		challengeTTL:   opts.Config.ChallengeTTLDuration(),
		confirmBaseURL: opts.Config.ConfirmBaseURL,
		nowF:           opts.Now,
	}
	if d.dispatcher == nil {
		d.dispatcher = notify.LogDispatcher{}
	}
	if d.locator == nil {
		d.locator = geo.NopLocator{}
	}
	if d.publisher == nil {
		d.publisher = events.NopPublisher{}
	}
	if d.nowF == nil {
		d.nowF = time.Now
	}
	return d
}

func (d *detector) now() time.Time {
	return d.nowF().UTC()
}

func (d *detector) Wait() {
	d.bg.Wait()
}

// DetectNewLogin scores the attempt and applies the three gates. Blocked
// logins never get a challenge; novel logins above the confirmation
// threshold get one.
func (d *detector) DetectNewLogin(ctx context.Context, req Request) (*Detection, error) {
	if req.UserID == "" || req.DeviceFingerprint == "" {
		return nil, ErrInvalidInput
	}

	now := d.now()
	attempt := toAttempt(req)
	assessment, err := d.analyzer.Score(ctx, attempt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to score login: %w", err)
	}
	metrics.ObserveRiskScore(assessment.Score)

	policy := d.analyzer.Policy()
	det := &Detection{
		NewDevice:  !assessment.KnownDevice,
		NewNetwork: !assessment.KnownNetwork,
		Assessment: assessment,
		Blocked:    policy.Blocks(assessment.Score),
	}
	det.IsNewLogin = det.NewDevice || det.NewNetwork
	det.RequiresMFA = !det.Blocked && policy.RequiresMFA(assessment.Score)
	det.RequiresConfirmation = !det.Blocked && det.IsNewLogin && policy.RequiresConfirmation(assessment.Score)

	switch {
	case det.Blocked:
		d.record(ctx, attempt, assessment, risk.OutcomeBlocked, now)
		metrics.LoginDecision(string(risk.OutcomeBlocked))
		d.publish(events.Event{
			Type:           events.LoginBlocked,
			UserID:         req.UserID,
			NetworkAddress: req.NetworkAddress,
			RiskScore:      &assessment.Score,
			OccurredAt:     now,
		})
		slog.Warn("Login blocked", "user_id", req.UserID, "score", assessment.Score, "level", assessment.Level)

	case det.RequiresConfirmation:
		c, claim, err := d.issueChallenge(ctx, req, assessment, now)
		if err != nil {
			return nil, err
		}
		id, expires := c.ID.String(), c.ExpiresAt
		det.ChallengeID = id
		det.ChallengeExpiresAt = &expires
		det.ClaimToken = claim

		d.record(ctx, attempt, assessment, risk.OutcomeChallenged, now)
		metrics.LoginDecision(string(risk.OutcomeChallenged))
		d.publish(events.Event{
			Type:           events.LoginChallenge,
			UserID:         req.UserID,
			NetworkAddress: req.NetworkAddress,
			RiskScore:      &assessment.Score,
			OccurredAt:     now,
		})
		slog.Info("New login requires confirmation", "user_id", req.UserID, "challenge_id", id, "score", assessment.Score)
	}

	return det, nil
}

// RecordSuccess appends an allowed attempt once the session is established
func (d *detector) RecordSuccess(ctx context.Context, req Request, assessment *risk.Assessment) error {
	if err := d.analyzer.RecordOutcome(ctx, toAttempt(req), assessment, risk.OutcomeAllowed, d.now()); err != nil {
		return err
	}
	metrics.LoginDecision(string(risk.OutcomeAllowed))
	return nil
}

// ConfirmLogin answers a challenge from the emailed link. Approval trusts
// the device; denial sends a security alert. Neither creates a session:
// the client that started the login collects it with CompleteLogin.
func (d *detector) ConfirmLogin(ctx context.Context, token string, approve bool) (*Confirmation, error) {
	if len(token) != challengeTokenLength {
		return nil, ErrInvalidInput
	}

	c, err := d.repo.FindByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	now := d.now()
	if c.ConsumedAt != nil {
		return nil, ErrChallengeNotFound
	}
	if !c.Pending(now) {
		return nil, ErrChallengeExpired
	}

	result := &Confirmation{
		Approved:          approve,
		UserID:            c.UserID,
		DeviceFingerprint: c.Fingerprint,
		NetworkAddress:    c.NetworkAddress,
		UserAgent:         c.UserAgent,
	}
	attempt := risk.Attempt{
		UserID:         c.UserID,
		Fingerprint:    c.Fingerprint,
		NetworkAddress: c.NetworkAddress,
		DeviceName:     c.DeviceName,
	}
	assessment := &risk.Assessment{Score: c.RiskScore}

	if approve {
		// A failed trust must leave the challenge answerable.
		if err := d.trust(ctx, attempt, now); err != nil {
			return nil, err
		}
		if err := d.consume(ctx, c, DecisionApproved, now); err != nil {
			d.undoTrust(ctx, c)
			return nil, err
		}
		d.record(ctx, attempt, assessment, risk.OutcomeApproved, now)
		metrics.LoginDecision(string(risk.OutcomeApproved))
		slog.Info("New login approved", "user_id", c.UserID, "challenge_id", c.ID.String())
		return result, nil
	}

	if err := d.consume(ctx, c, DecisionDenied, now); err != nil {
		return nil, err
	}
	d.record(ctx, attempt, assessment, risk.OutcomeDenied, now)
	metrics.LoginDecision(string(risk.OutcomeDenied))
	d.publish(events.Event{
		Type:           events.LoginDenied,
		UserID:         c.UserID,
		NetworkAddress: c.NetworkAddress,
		RiskScore:      &c.RiskScore,
		OccurredAt:     now,
	})
	d.notify(c.UserID, notify.TemplateSecurityAlert, map[string]string{
		"device":     c.DeviceName,
		"ip_address": c.NetworkAddress,
		"location":   d.locator.Lookup(ctx, c.NetworkAddress).String(),
		"time":       now.Format(time.RFC1123),
	})
	slog.Warn("New login denied by user", "user_id", c.UserID, "challenge_id", c.ID.String())
	return result, nil
}

func (d *detector) consume(ctx context.Context, c *Challenge, decision string, now time.Time) error {
	ok, err := d.repo.Consume(ctx, c.ID, decision, now)
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !ok {
		return ErrChallengeNotFound
	}
	return nil
}

// undoTrust withdraws the trust granted by an approval that could not be
// recorded, unless a concurrent approval won
func (d *detector) undoTrust(ctx context.Context, c *Challenge) {
	current, err := d.repo.FindByID(ctx, c.ID)
	if err == nil && current.Decision != nil && *current.Decision == DecisionApproved {
		return
	}
	if err := d.analyzer.DistrustDevice(ctx, c.UserID, c.Fingerprint); err != nil {
		slog.Warn("Failed to withdraw device trust", "user_id", c.UserID, "challenge_id", c.ID.String(), "error", err)
	}
}

// CompleteLogin lets the client that started a challenged login collect it.
// It succeeds once per approved challenge, within one challenge lifetime
// after the challenge expiry.
func (d *detector) CompleteLogin(ctx context.Context, challengeID, claimToken string) (*Confirmation, error) {
	id, err := uuid.Parse(challengeID)
	if err != nil || len(claimToken) != challengeTokenLength {
		return nil, ErrInvalidInput
	}

	c, err := d.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(claimToken)), []byte(c.ClaimHash)) != 1 {
		return nil, ErrChallengeNotFound
	}
	if c.CompletedAt != nil {
		return nil, ErrChallengeNotFound
	}

	now := d.now()
	switch {
	case c.Decision == nil && c.Pending(now):
		return nil, ErrConfirmationPending
	case c.Decision == nil:
		return nil, ErrChallengeExpired
	case *c.Decision == DecisionDenied:
		return nil, ErrLoginDenied
	case !now.Before(c.ExpiresAt.Add(d.challengeTTL)):
		return nil, ErrChallengeExpired
	}

	ok, err := d.repo.Complete(ctx, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete challenge: %w", err)
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}

	slog.Info("Approved login collected", "user_id", c.UserID, "challenge_id", c.ID.String())
	return &Confirmation{
		Approved:          true,
		UserID:            c.UserID,
		DeviceFingerprint: c.Fingerprint,
		NetworkAddress:    c.NetworkAddress,
		UserAgent:         c.UserAgent,
	}, nil
}

// TrustDevice records the device/network pair as known and trusted
func (d *detector) TrustDevice(ctx context.Context, userID, fingerprint, networkAddress, userAgent string) error {
	if userID == "" || fingerprint == "" {
		return ErrInvalidInput
	}
	return d.trust(ctx, risk.Attempt{
		UserID:         userID,
		Fingerprint:    fingerprint,
		NetworkAddress: networkAddress,
		DeviceName:     device.Derive(userAgent, networkAddress).Name,
	}, d.now())
}

func (d *detector) trust(ctx context.Context, attempt risk.Attempt, now time.Time) error {
	loc := d.locator.Lookup(ctx, attempt.NetworkAddress)
	location := ""
	if !loc.IsZero() {
		location = loc.String()
	}
	if err := d.analyzer.TrustDevice(ctx, attempt, location, now); err != nil {
		return fmt.Errorf("failed to trust device: %w", err)
	}
	return nil
}

// KnownDevices lists the devices a user has logged in from
func (d *detector) KnownDevices(ctx context.Context, userID string) ([]risk.KnownDevice, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return d.analyzer.KnownDevices(ctx, userID)
}

// NotifyEviction tells the user that a new login pushed older sessions out
func (d *detector) NotifyEviction(ctx context.Context, req Request, evicted []string) {
	if len(evicted) == 0 {
		return
	}
	info := device.Derive(req.UserAgent, req.NetworkAddress)
	d.notify(req.UserID, notify.TemplateSessionEvicted, map[string]string{
		"device":     info.Name,
		"ip_address": req.NetworkAddress,
		"location":   d.locator.Lookup(ctx, req.NetworkAddress).String(),
		"time":       d.now().Format(time.RFC1123),
		"count":      strconv.Itoa(len(evicted)),
	})
}

// PruneChallenges deletes challenges whose collection window has closed
func (d *detector) PruneChallenges(ctx context.Context) (int64, error) {
	return d.repo.DeleteExpired(ctx, d.now().Add(-d.challengeTTL))
}

func (d *detector) issueChallenge(ctx context.Context, req Request, assessment *risk.Assessment, now time.Time) (*Challenge, string, error) {
	token, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate challenge token: %w", err)
	}
	claim, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate claim token: %w", err)
	}

	info := device.Derive(req.UserAgent, req.NetworkAddress)
	c := &Challenge{
		UserID:         req.UserID,
		TokenHash:      hashToken(token),
		ClaimHash:      hashToken(claim),
		Fingerprint:    req.DeviceFingerprint,
		NetworkAddress: req.NetworkAddress,
		UserAgent:      req.UserAgent,
		DeviceName:     info.Name,
		RiskScore:      assessment.Score,
		ExpiresAt:      now.Add(d.challengeTTL),
	}
	c.CreatedAt = now
	if err := d.repo.Create(ctx, c); err != nil {
		return nil, "", fmt.Errorf("failed to store challenge: %w", err)
	}

	d.notify(req.UserID, notify.TemplateLoginConfirmation, map[string]string{
		"device":      info.Name,
		"browser":     info.Browser,
		"os":          info.OS,
		"ip_address":  req.NetworkAddress,
		"location":    d.locator.Lookup(ctx, req.NetworkAddress).String(),
		"time":        now.Format(time.RFC1123),
		"expires_in":  strconv.Itoa(int(d.challengeTTL.Minutes())),
		"approve_url": d.actionURL(token, "approve"),
		"deny_url":    d.actionURL(token, "deny"),
	})
	return c, claim, nil
}

func (d *detector) actionURL(token, action string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("action", action)
	return d.confirmBaseURL + "?" + q.Encode()
}

// record appends to the login history; failures are logged
func (d *detector) record(ctx context.Context, attempt risk.Attempt, assessment *risk.Assessment, outcome risk.Outcome, now time.Time) {
	if err := d.analyzer.RecordOutcome(ctx, attempt, assessment, outcome, now); err != nil {
		slog.Warn("Failed to record login attempt", "user_id", attempt.UserID, "outcome", outcome, "error", err)
	}
}

// notify sends in the background; delivery failures never fail the login
func (d *detector) notify(userID, templateID string, vars map[string]string) {
	if d.recipients == nil {
		slog.Warn("No recipient directory configured, skipping notification", "user_id", userID, "template", templateID)
		return
	}
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		to, err := d.recipients.EmailFor(ctx, userID)
		if err != nil {
			slog.Warn("Failed to resolve notification recipient", "user_id", userID, "template", templateID, "error", err)
			return
		}
		if err := d.dispatcher.Send(ctx, to, templateID, vars); err != nil {
			slog.Warn("Failed to send notification", "user_id", userID, "template", templateID, "error", err)
		}
	}()
}

func (d *detector) publish(evt events.Event) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.publisher.Publish(ctx, evt); err != nil {
			slog.Warn("Failed to publish security event", "type", evt.Type, "user_id", evt.UserID, "error", err)
		}
	}()
}

func toAttempt(req Request) risk.Attempt {
	return risk.Attempt{
		UserID:         req.UserID,
		Fingerprint:    req.DeviceFingerprint,
		NetworkAddress: req.NetworkAddress,
		DeviceName:     device.Derive(req.UserAgent, req.NetworkAddress).Name,
	}
}

func generateToken() (string, error) {
	b := make([]byte, challengeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha3.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(h[:])
}
