// Package worker runs periodic housekeeping: expiring sessions out of the
// audit store, pruning the blocklist and deleting stale login challenges.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionCleaner expires sessions whose fast-store entry is gone
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// ChallengePruner deletes expired login challenges
type ChallengePruner interface {
	PruneChallenges(ctx context.Context) (int64, error)
}

// BlocklistPruner drops expired blocklist entries
type BlocklistPruner interface {
	Prune() int
}

// Scheduler owns the cron runner and the housekeeping jobs
type Scheduler struct {
	cron       *cron.Cron
	sessions   SessionCleaner
	challenges ChallengePruner
	blocklist  BlocklistPruner
	timeout    time.Duration

	mu      sync.Mutex
	running bool
}

// New registers the housekeeping job on schedule (standard cron expression or
// "@every <duration>"). Overlapping runs are skipped.
func New(schedule string, sessions SessionCleaner, challenges ChallengePruner, blocklist BlocklistPruner) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{}),
			cron.SkipIfStillRunning(cronLogger{}),
		)),
		sessions:   sessions,
		challenges: challenges,
		blocklist:  blocklist,
		timeout:    time.Minute,
	}

	if _, err := s.cron.AddFunc(schedule, s.runJob); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	slog.Info("Housekeeping scheduler started")
}

// Stop halts the schedule and waits for a running job to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Housekeeping scheduler stop timed out")
	}
}

func (s *Scheduler) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// Result summarizes one housekeeping pass
type Result struct {
	ExpiredSessions   int
	PrunedChallenges  int64
	PrunedBlocklisted int
}

// RunOnce runs every job once. A failing job is logged and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	var res Result

	if s.sessions != nil {
		n, err := s.sessions.CleanupExpiredSessions(ctx)
		if err != nil {
			slog.Error("Session cleanup failed", "error", err)
		}
		res.ExpiredSessions = n
	}

	if s.challenges != nil {
		n, err := s.challenges.PruneChallenges(ctx)
		if err != nil {
			slog.Error("Challenge pruning failed", "error", err)
		}
		res.PrunedChallenges = n
	}

	if s.blocklist != nil {
		res.PrunedBlocklisted = s.blocklist.Prune()
	}

	if res != (Result{}) {
		slog.Info("Housekeeping completed",
			"expired_sessions", res.ExpiredSessions,
			"pruned_challenges", res.PrunedChallenges,
			"pruned_blocklist", res.PrunedBlocklisted,
		)
	}
	return res
}

// cronLogger adapts cron's logger to slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
