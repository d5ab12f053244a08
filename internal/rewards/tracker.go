// Package rewards tracks the agent's point totals as reported by the service.
package rewards

import (
	"context"
	"sync"
	"time"

	"gata/internal/gata"
	"gata/internal/logging"
)

// DefaultPageSize is the reward-history page the tracker reads.
const DefaultPageSize = 10

// Snapshot is the reward state at one point in time. Each refresh replaces it.
type Snapshot struct {
	TotalPoints    int64     `json:"totalPoints"`
	DailyPoints    int64     `json:"dailyPoints"`
	CompletedCount int64     `json:"completedCount"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// Client reads reward history.
type Client interface {
	FetchRewards(ctx context.Context, taskToken string, page, perPage int) (gata.RewardsPage, error)
}

// StatsSaver persists each new snapshot.
type StatsSaver interface {
	SaveStats(s Snapshot) error
}

// Reporter emits a human-readable progress line.
type Reporter interface {
	Report(s Snapshot)
}

// Tracker owns the latest Snapshot. Refresh is called from the task loop only;
// Current may be read from other goroutines.
type Tracker struct {
	client   Client
	saver    StatsSaver
	reporter Reporter
	pageSize int
	logger   logging.Logger
	now      func() time.Time

	mu      sync.RWMutex
	current Snapshot
}

// Option customises a Tracker.
type Option func(*Tracker)

func WithStatsSaver(saver StatsSaver) Option { return func(t *Tracker) { t.saver = saver } }
func WithReporter(r Reporter) Option          { return func(t *Tracker) { t.reporter = r } }
func WithLogger(l logging.Logger) Option       { return func(t *Tracker) { t.logger = logging.OrNop(l) } }

// WithPageSize overrides the history page size; non-positive values are ignored.
func WithPageSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.pageSize = n
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a Tracker.
func NewTracker(client Client, opts ...Option) *Tracker {
	t := &Tracker{
		client:   client,
		pageSize: DefaultPageSize,
		logger:   logging.NewComponentLogger("rewards"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Refresh fetches the first page of reward history and replaces the current
// snapshot. Fetch errors are returned unchanged and leave the snapshot as is;
// persistence failures are logged only.
func (t *Tracker) Refresh(ctx context.Context, taskToken string) (Snapshot, error) {
	page, err := t.client.FetchRewards(ctx, taskToken, 0, t.pageSize)
	if err != nil {
		return Snapshot{}, err
	}

	now := t.now().UTC()
	snap := Snapshot{
		TotalPoints:    nonNegative(int64(page.Total)),
		CompletedCount: nonNegative(int64(page.CompletedCount)),
		DailyPoints:    dailyPoints(page.Rewards, now),
		CapturedAt:     now,
	}

	t.mu.Lock()
	t.current = snap
	t.mu.Unlock()

	if t.reporter != nil {
		t.reporter.Report(snap)
	}
	if t.saver != nil {
		if err := t.saver.SaveStats(snap); err != nil {
			t.logger.Warn("Failed to persist stats: %v", err)
		}
	}
	return snap, nil
}

// Current returns the latest snapshot.
func (t *Tracker) Current() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Seed installs a snapshot restored from disk so the first cycle has a baseline.
func (t *Tracker) Seed(s Snapshot) {
	t.mu.Lock()
	t.current = s
	t.mu.Unlock()
}

func dailyPoints(entries []gata.RewardEntry, now time.Time) int64 {
	today := now.Format("2006-01-02")
	for _, entry := range entries {
		if entry.Date == today {
			return nonNegative(int64(entry.TotalPoints))
		}
	}
	return 0
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
