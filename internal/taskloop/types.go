package taskloop

import (
	"context"
	"time"

	"gata/internal/gata"
	"gata/internal/rewards"
	"gata/internal/session"
)

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeIdle         Outcome = "idle"
	OutcomeValid        Outcome = "valid"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeSubmitFailed Outcome = "submit_failed"
)

// State is the controller's current phase.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateScoring    State = "scoring"
	StateSubmitting State = "submitting"
	StateValidating State = "validating"
	StateDelaying   State = "delaying"
	StateFailed     State = "failed"
)

// Config holds the loop's pacing.
type Config struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	RetryDelay  time.Duration
	SettleDelay time.Duration
}

// DefaultConfig mirrors the service's expected cadence.
func DefaultConfig() Config {
	return Config{
		MinDelay:    5 * time.Second,
		MaxDelay:    15 * time.Second,
		RetryDelay:  10 * time.Second,
		SettleDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	return c
}

// CycleResult describes one pass through the loop.
type CycleResult struct {
	LogID        string  `json:"log_id"`
	TaskID       string  `json:"task_id,omitempty"`
	Score        float64 `json:"score"`
	Outcome      Outcome `json:"outcome"`
	PointsBefore int64   `json:"points_before"`
	PointsAfter  int64   `json:"points_after"`
	// Delay is the pause scheduled after the cycle, excluding the settle and
	// penalty sleeps taken during validation.
	Delay      time.Duration `json:"delay"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// TaskClient fetches and submits labeling tasks.
type TaskClient interface {
	FetchTask(ctx context.Context, taskToken string) (gata.Task, error)
	SubmitScore(ctx context.Context, taskToken, taskID string, score float64) error
}

// RewardsRefresher exposes the rewards tracker.
type RewardsRefresher interface {
	Refresh(ctx context.Context, taskToken string) (rewards.Snapshot, error)
	Current() rewards.Snapshot
}

// Scorer rates a caption.
type Scorer interface {
	Score(caption string) float64
}

// Reauthenticator obtains a replacement session.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) (session.Session, error)
}

// CycleRecorder stores finished cycles.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, r CycleResult) error
}

// RandomSource yields values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Sleeper pauses the loop. Implementations must return ctx.Err() when ctx is
// cancelled before d elapses.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
var TimerSleeper Sleeper = SleepFunc(sleepContext)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
