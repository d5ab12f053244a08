// Package store persists the latest credentials and reward stats as two
// independent JSON snapshot files. Each write replaces its file in full.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gata/internal/rewards"
	"gata/internal/session"
)

const (
	DefaultTokensFile = "tokens.json"
	DefaultStatsFile  = "stats.json"
)

type credentialsRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Bearer    string    `json:"bearer"`
	AggrLLM   string    `json:"aggr_llm"`
	AggrTask  string    `json:"aggr_task"`
}

type statsRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	DailyPoints    int64     `json:"dailyPoints"`
	TotalPoints    int64     `json:"totalPoints"`
	CompletedCount int64     `json:"completedCount"`
	LastPointCheck int64     `json:"lastPointCheck"`
}

// FileStore writes snapshot files into a directory.
type FileStore struct {
	tokensPath string
	statsPath  string
	now        func() time.Time

	mu sync.Mutex
}

// Option customises a FileStore.
type Option func(*FileStore)

// WithFileNames overrides the snapshot file names; empty names keep defaults.
func WithFileNames(tokens, stats string) Option {
	return func(s *FileStore) {
		dir := filepath.Dir(s.tokensPath)
		if tokens != "" {
			s.tokensPath = resolve(dir, tokens)
		}
		if stats != "" {
			s.statsPath = resolve(dir, stats)
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a FileStore rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &FileStore{
		tokensPath: filepath.Join(dir, DefaultTokensFile),
		statsPath:  filepath.Join(dir, DefaultStatsFile),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveCredentials overwrites the credentials snapshot.
func (s *FileStore) SaveCredentials(sess session.Session) error {
	return s.write(s.tokensPath, credentialsRecord{
		Timestamp: s.now().UTC(),
		Bearer:    sess.SessionToken,
		AggrLLM:   sess.LLMToken,
		AggrTask:  sess.TaskToken,
	})
}

// SaveStats overwrites the stats snapshot.
func (s *FileStore) SaveStats(snap rewards.Snapshot) error {
	return s.write(s.statsPath, statsRecord{
		Timestamp:      s.now().UTC(),
		DailyPoints:    snap.DailyPoints,
		TotalPoints:    snap.TotalPoints,
		CompletedCount: snap.CompletedCount,
		LastPointCheck: snap.CapturedAt.UnixMilli(),
	})
}

// LoadStats reads the stats snapshot. A missing file yields os.ErrNotExist.
func (s *FileStore) LoadStats() (rewards.Snapshot, error) {
	var rec statsRecord
	if err := s.read(s.statsPath, &rec); err != nil {
		return rewards.Snapshot{}, err
	}
	snap := rewards.Snapshot{
		TotalPoints:    rec.TotalPoints,
		DailyPoints:    rec.DailyPoints,
		CompletedCount: rec.CompletedCount,
		CapturedAt:     rec.Timestamp,
	}
	if rec.LastPointCheck > 0 {
		snap.CapturedAt = time.UnixMilli(rec.LastPointCheck).UTC()
	}
	return snap, nil
}

func (s *FileStore) write(path string, record any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) read(path string, out any) error {
	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), os.ErrNotExist)
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
