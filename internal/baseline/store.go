// Package baseline owns the learned per-signal statistical profiles. It is
// the only mutator of Baseline state: scoring reads through Get, collection
// feedback writes through Update, and operators clear state through Reset.
package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Codewithaiyan/ObserveAI/internal/cache"
	"github.com/Codewithaiyan/ObserveAI/internal/models"
)

// MinStdDev floors the dispersion estimate so a perfectly flat series does
// not turn every later fluctuation into an infinite z-score.
const MinStdDev = 0.1

// Store is a lock-guarded key-value store of Welford running statistics,
// keyed by (source, metric). Safe for concurrent reads during scoring and
// writes during collection feedback within the same tick.
type Store struct {
	mu        sync.RWMutex
	baselines map[string]models.Baseline

	path   string
	logger *slog.Logger
	dirty  bool

	mirror    cache.Provider
	mirrorKey string
}

// MirrorKey is the shared-cache key the snapshot is mirrored under.
const MirrorKey = "observeai:baselines"

// NewStore creates a Store persisting to path. An empty path disables
// persistence. Existing state is loaded so learning survives restarts.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		baselines: make(map[string]models.Baseline),
		path:      path,
		logger:    logger,
	}
	if err := s.load(); err != nil {
		logger.Warn("baseline state not loaded, starting fresh", slog.Any("error", err))
	}
	return s
}

// Get returns the baseline for the signal's series, if one exists.
func (s *Store) Get(sourceID, metric string) (models.Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baselines[sourceID+"/"+metric]
	return b, ok
}

// Update folds a signal into its series' running statistics. Callers must
// only pass signals that were not judged anomalous; anomalous values would
// poison the learned profile.
func (s *Store) Update(signal models.Signal) models.Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := signal.Key()
	b, ok := s.baselines[key]
	if !ok {
		b = models.Baseline{SourceID: signal.SourceID, Metric: signal.Metric}
	}

	// Welford's online algorithm.
	b.SampleCount++
	delta := signal.Value - b.Mean
	b.Mean += delta / float64(b.SampleCount)
	b.M2 += delta * (signal.Value - b.Mean)
	b.LastUpdated = signal.Timestamp

	s.baselines[key] = b
	s.dirty = true
	return b
}

// Reset clears learned state for one source, or for all sources when
// sourceID is empty. Used for deliberate relearning.
func (s *Store) Reset(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sourceID == "" {
		n := len(s.baselines)
		s.baselines = make(map[string]models.Baseline)
		s.dirty = n > 0
		return n
	}

	n := 0
	for key, b := range s.baselines {
		if b.SourceID == sourceID {
			delete(s.baselines, key)
			n++
		}
	}
	if n > 0 {
		s.dirty = true
	}
	return n
}

// Len returns the number of learned series.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.baselines)
}

// Snapshot returns a copy of all baselines, for status and analysis context.
func (s *Store) Snapshot() []models.Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Baseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, b)
	}
	return out
}

type stateFile struct {
	SavedAt   time.Time         `json:"saved_at"`
	Baselines []models.Baseline `json:"baselines"`
}

// EnableMirror additionally publishes each persisted snapshot to the shared
// cache under MirrorKey, so other processes can inspect learned state.
func (s *Store) EnableMirror(provider cache.Provider) {
	s.mu.Lock()
	s.mirror = provider
	s.mirrorKey = MirrorKey
	s.mu.Unlock()
}

// Persist writes the current state to disk when it changed since the last
// write. The write is atomic (temp file + rename) so a crash mid-write
// leaves the previous snapshot intact; state may lag by at most one tick.
// On failure the state stays marked dirty so the next call tries again.
func (s *Store) Persist() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := stateFile{SavedAt: time.Now().UTC(), Baselines: make([]models.Baseline, 0, len(s.baselines))}
	for _, b := range s.baselines {
		snapshot.Baselines = append(snapshot.Baselines, b)
	}
	s.dirty = false
	mirror, mirrorKey := s.mirror, s.mirrorKey
	s.mu.Unlock()

	if err := s.write(snapshot, mirror, mirrorKey); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) write(snapshot stateFile, mirror cache.Provider, mirrorKey string) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal baselines: %w", err)
	}

	if mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := mirror.Set(ctx, mirrorKey, data, 0); err != nil {
			s.logger.Warn("baseline snapshot mirror failed", slog.Any("error", err))
		}
		cancel()
	}

	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	s.logger.Debug("baselines persisted", slog.Int("series", len(snapshot.Baselines)), slog.String("path", s.path))
	return nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var snapshot stateFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range snapshot.Baselines {
		s.baselines[b.SourceID+"/"+b.Metric] = b
	}
	s.logger.Info("baselines loaded",
		slog.Int("series", len(snapshot.Baselines)),
		slog.Time("saved_at", snapshot.SavedAt))
	return nil
}
