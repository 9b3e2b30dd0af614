// Package risk scores login attempts with an additive point model and keeps
// the per-user login history the score is computed from.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/domain/device"
)

const (
	MinScore = 0
	MaxScore = 100
)

// ErrInvalidInput is returned when a scoring request misses its user or fingerprint
var ErrInvalidInput = errors.New("invalid risk input")

// Factor names one contribution to a risk score
type Factor string

const (
	FactorTrustedDevice    Factor = "trusted_device"
	FactorNewDevice        Factor = "new_device"
	FactorNewLocation      Factor = "new_location"
	FactorVelocity         Factor = "velocity_anomaly"
	FactorUnusualTime      Factor = "unusual_time"
	FactorMaliciousNetwork Factor = "known_bad_network"
)

// Level is the discrete tier a score maps to
type Level string

const (
	LevelLow      Level = "low"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Contribution is one applied factor and the points it added (negative for reductions)
type Contribution struct {
	Factor Factor `json:"factor"`
	Points int    `json:"points"`
}

// Assessment is the per-attempt scoring result
type Assessment struct {
	Score         int            `json:"score"`
	Level         Level          `json:"level"`
	Factors       []Contribution `json:"factors"`
	KnownDevice   bool           `json:"known_device"`
	TrustedDevice bool           `json:"trusted_device"`
	KnownNetwork  bool           `json:"known_network"`
	AssessedAt    time.Time      `json:"assessed_at"`
}

// Has reports whether factor contributed to the score
func (a *Assessment) Has(factor Factor) bool {
	for _, c := range a.Factors {
		if c.Factor == factor {
			return true
		}
	}
	return false
}

// Policy holds the weights and thresholds used by the analyzer
type Policy struct {
	Weights           config.RiskWeights
	ConfirmThreshold  int
	MFAThreshold      int
	BlockThreshold    int
	VelocityWindow    time.Duration
	VelocityLimit     int
	UnusualHoursStart int
	UnusualHoursEnd   int
	Location          *time.Location
}

// NewPolicy builds a policy from configuration
func NewPolicy(cfg config.RiskConfig) (Policy, error) {
	p := Policy{
		Weights:           cfg.Weights,
		ConfirmThreshold:  cfg.ConfirmThreshold,
		MFAThreshold:      cfg.MFAThreshold,
		BlockThreshold:    cfg.BlockThreshold,
		VelocityWindow:    cfg.VelocityWindowDuration(),
		VelocityLimit:     cfg.VelocityLimit,
		UnusualHoursStart: cfg.UnusualHoursStart,
		UnusualHoursEnd:   cfg.UnusualHoursEnd,
		Location:          time.Local,
	}
	return p, p.Validate()
}

// Validate checks that thresholds are ordered 0 <= confirm <= mfa <= block <= MaxScore.
func (p Policy) Validate() error {
	if p.ConfirmThreshold < MinScore || p.ConfirmThreshold > p.MFAThreshold ||
		p.MFAThreshold > p.BlockThreshold || p.BlockThreshold > MaxScore {
		return fmt.Errorf("risk thresholds must satisfy %d <= confirm <= mfa <= block <= %d (got %d, %d, %d)",
			MinScore, MaxScore, p.ConfirmThreshold, p.MFAThreshold, p.BlockThreshold)
	}
	return nil
}

// LevelFor maps a score to its tier
func (p Policy) LevelFor(score int) Level {
	switch {
	case score >= p.BlockThreshold:
		return LevelCritical
	case score >= p.MFAThreshold:
		return LevelHigh
	case score >= p.ConfirmThreshold:
		return LevelElevated
	default:
		return LevelLow
	}
}

// RequiresConfirmation reports whether score crosses the email confirmation gate
func (p Policy) RequiresConfirmation(score int) bool {
	return score >= p.ConfirmThreshold
}

// RequiresMFA reports whether score crosses the step-up gate
func (p Policy) RequiresMFA(score int) bool {
	return score >= p.MFAThreshold
}

// Blocks reports whether score crosses the outright block gate
func (p Policy) Blocks(score int) bool {
	return score >= p.BlockThreshold
}

func (p Policy) unusualHour(t time.Time) bool {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	h := t.In(loc).Hour()
	start, end := p.UnusualHoursStart, p.UnusualHoursEnd
	switch {
	case start == end:
		return false
	case start < end:
		return h >= start && h < end
	default:
		// band wraps midnight, e.g. 22-04
		return h >= start || h < end
	}
}

// Attempt describes a login attempt to be scored or recorded
type Attempt struct {
	UserID         string
	Fingerprint    string
	NetworkAddress string
	DeviceName     string
}

// Analyzer scores login attempts
type Analyzer interface {
	Score(ctx context.Context, attempt Attempt, now time.Time) (*Assessment, error)
	RecordOutcome(ctx context.Context, attempt Attempt, assessment *Assessment, outcome Outcome, now time.Time) error
	TrustDevice(ctx context.Context, attempt Attempt, location string, now time.Time) error
	DistrustDevice(ctx context.Context, userID, fingerprint string) error
	KnownDevices(ctx context.Context, userID string) ([]KnownDevice, error)
	Policy() Policy
}

type analyzer struct {
	repo       Repository
	reputation NetworkReputation
	policy     Policy
}

// NewAnalyzer creates an analyzer over a history repository and a network reputation source
func NewAnalyzer(repo Repository, reputation NetworkReputation, policy Policy) Analyzer {
	return &analyzer{
		repo:       repo,
		reputation: reputation,
		policy:     policy,
	}
}

func (a *analyzer) Policy() Policy {
	return a.policy
}

// Score computes the additive risk score of an attempt. It only reads history.
func (a *analyzer) Score(ctx context.Context, attempt Attempt, now time.Time) (*Assessment, error) {
	if attempt.UserID == "" || attempt.Fingerprint == "" {
		return nil, ErrInvalidInput
	}

	w := a.policy.Weights
	result := &Assessment{AssessedAt: now.UTC()}
	total := 0
	add := func(f Factor, points int) {
		if points == 0 {
			return
		}
		result.Factors = append(result.Factors, Contribution{Factor: f, Points: points})
		total += points
	}

	known, err := a.repo.FindKnownDevice(ctx, attempt.UserID, attempt.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load known device: %w", err)
	}
	if known != nil {
		result.KnownDevice = true
		result.TrustedDevice = known.Trusted
		if known.Trusted {
			add(FactorTrustedDevice, -w.TrustedDevice)
		}
	} else {
		add(FactorNewDevice, w.NewDevice)
	}

	network := device.CoarsenAddress(attempt.NetworkAddress)
	knownNetwork, err := a.repo.HasKnownNetwork(ctx, attempt.UserID, network)
	if err != nil {
		return nil, fmt.Errorf("failed to load known networks: %w", err)
	}
	result.KnownNetwork = knownNetwork
	if !knownNetwork {
		add(FactorNewLocation, w.NewLocation)
	}

	if a.policy.VelocityLimit > 0 && a.policy.VelocityWindow > 0 {
		count, err := a.repo.CountAttemptsSince(ctx, attempt.UserID, now.Add(-a.policy.VelocityWindow))
		if err != nil {
			return nil, fmt.Errorf("failed to count recent attempts: %w", err)
		}
		if count > int64(a.policy.VelocityLimit) {
			add(FactorVelocity, w.Velocity)
		}
	}

	if a.policy.unusualHour(now) {
		add(FactorUnusualTime, w.UnusualTime)
	}

	if a.reputation != nil && a.reputation.IsMalicious(attempt.NetworkAddress) {
		add(FactorMaliciousNetwork, w.MaliciousNetwork)
		total = MaxScore
	}

	result.Score = clamp(total)
	result.Level = a.policy.LevelFor(result.Score)
	return result, nil
}

// RecordOutcome appends the attempt to the user's history and refreshes the
// device's last-seen time when the login went through
func (a *analyzer) RecordOutcome(ctx context.Context, attempt Attempt, assessment *Assessment, outcome Outcome, now time.Time) error {
	row := &LoginAttempt{
		UserID:      attempt.UserID,
		Fingerprint: attempt.Fingerprint,
		IPAddress:   attempt.NetworkAddress,
		Network:     device.CoarsenAddress(attempt.NetworkAddress),
		Outcome:     outcome,
	}
	row.CreatedAt = now.UTC()
	if assessment != nil {
		row.Score = assessment.Score
	}
	if err := a.repo.RecordAttempt(ctx, row); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	if !outcome.Accepted() {
		return nil
	}
	return a.repo.TouchKnownDevice(ctx, &KnownDevice{
		UserID:      attempt.UserID,
		Fingerprint: attempt.Fingerprint,
		Network:     row.Network,
		DeviceName:  attempt.DeviceName,
		LastSeenAt:  now.UTC(),
	})
}

// TrustDevice marks the device/network pair as known and trusted
func (a *analyzer) TrustDevice(ctx context.Context, attempt Attempt, location string, now time.Time) error {
	if attempt.UserID == "" || attempt.Fingerprint == "" {
		return ErrInvalidInput
	}
	ts := now.UTC()
	return a.repo.TrustDevice(ctx, &KnownDevice{
		UserID:      attempt.UserID,
		Fingerprint: attempt.Fingerprint,
		Network:     device.CoarsenAddress(attempt.NetworkAddress),
		DeviceName:  attempt.DeviceName,
		Location:    location,
		TrustedAt:   &ts,
		LastSeenAt:  ts,
	})
}

// DistrustDevice revokes trust from a device the user rejected
func (a *analyzer) DistrustDevice(ctx context.Context, userID, fingerprint string) error {
	if userID == "" || fingerprint == "" {
		return ErrInvalidInput
	}
	return a.repo.UntrustDevice(ctx, userID, fingerprint)
}

// KnownDevices lists the devices the user has logged in from, most recent first
func (a *analyzer) KnownDevices(ctx context.Context, userID string) ([]KnownDevice, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return a.repo.ListKnownDevices(ctx, userID)
}

func clamp(score int) int {
	return max(MinScore, min(MaxScore, score))
}
