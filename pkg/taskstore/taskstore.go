// Package taskstore holds the canonical local task set. It is
// offline-first: the set is loaded from a durable backend before any
// network state exists, every mutation is written through to the backend
// before it becomes visible in memory, and statistics are recomputed
// under the same lock as the mutation so readers never observe a
// task/statistics mismatch.
package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/watch"
)

// Backend is the durable storage boundary. A write must be durable
// before it returns; Load must return the last durable write.
type Backend interface {
	Load(ctx context.Context) ([]model.Task, error)
	Upsert(ctx context.Context, task model.Task) error
	Close() error
}

// Store is the canonical local task cache.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]model.Task
	backend Backend
	stats   *watch.Value[model.TaskStatistics]
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over the given backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		tasks:   make(map[string]model.Task),
		backend: backend,
		stats:   watch.NewValue(model.TaskStatistics{}),
		logger:  slog.Default().With("component", "taskstore"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadTasks populates the in-memory set from durable storage. Safe to
// call before any network state exists, and safe to call again: the
// durable copy always wins over whatever is in memory at load time.
func (s *Store) LoadTasks(ctx context.Context) error {
	tasks, err := s.backend.Load(ctx)
	if err != nil {
		return errkind.New(errkind.Internal, "taskstore.LoadTasks", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	s.publishStatsLocked()
	s.logger.InfoContext(ctx, "tasks loaded", "count", len(tasks))
	return nil
}

// ApplyRemoteMerge conflict-resolves each remote task against the local
// set by UpdatedAt: a strictly newer remote wins, otherwise the local
// copy is retained. The returned slice holds the ids where local won,
// so the caller can re-queue any of them that were pending a push.
// Replaying the same merge twice yields the same result.
func (s *Store) ApplyRemoteMerge(ctx context.Context, remote []model.Task) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var localWins []string
	for _, rt := range remote {
		rt.Normalize()
		local, exists := s.tasks[rt.ID]
		if exists && !rt.UpdatedAt.After(local.UpdatedAt) {
			localWins = append(localWins, local.ID)
			continue
		}
		if err := s.backend.Upsert(ctx, rt); err != nil {
			return localWins, errkind.New(errkind.Internal, "taskstore.ApplyRemoteMerge",
				fmt.Errorf("write through task %s: %w", rt.ID, err))
		}
		s.tasks[rt.ID] = rt
	}
	s.publishStatsLocked()
	return localWins, nil
}

// UpdateTaskStatus applies a local optimistic status change, bumping
// UpdatedAt to now.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	return s.mutate(ctx, "taskstore.UpdateTaskStatus", id, func(t *model.Task) {
		t.Status = status
		if status == model.TaskCompleted {
			t.Progress = 1.0
		}
	})
}

// SetProgress applies a local optimistic progress change. Progress is
// clamped to [0,1]; reaching 1.0 completes the task.
func (s *Store) SetProgress(ctx context.Context, id string, progress float64) (model.Task, error) {
	return s.mutate(ctx, "taskstore.SetProgress", id, func(t *model.Task) {
		switch {
		case progress < 0:
			progress = 0
		case progress > 1:
			progress = 1
		}
		t.Progress = progress
		if progress >= 1.0 && t.Status != model.TaskCancelled {
			t.Status = model.TaskCompleted
		}
	})
}

// Insert creates a locally-originated task. An empty id is assigned a
// fresh uuid. The task is written through before it becomes visible.
func (s *Store) Insert(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	t.UpdatedAt = s.now()
	t.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return model.Task{}, errkind.Newf(errkind.InvalidState, "taskstore.Insert", "task %s already exists", t.ID)
	}
	if err := s.backend.Upsert(ctx, t); err != nil {
		return model.Task{}, errkind.New(errkind.Internal, "taskstore.Insert", err)
	}
	s.tasks[t.ID] = t
	s.publishStatsLocked()
	return t, nil
}

// Get returns the task with the given id.
func (s *Store) Get(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// RecentTasks returns up to limit tasks ordered by most recent update.
func (s *Store) RecentTasks(limit int) []model.Task {
	tasks := s.Snapshot()
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].UpdatedAt.Equal(tasks[j].UpdatedAt) {
			return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks
}

// Snapshot returns a copy of the full task set.
func (s *Store) Snapshot() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// Statistics returns the current projection.
func (s *Store) Statistics() model.TaskStatistics {
	return s.stats.Get()
}

// StatisticsWatch exposes the statistics cell for subscription.
func (s *Store) StatisticsWatch() *watch.Value[model.TaskStatistics] {
	return s.stats
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) mutate(ctx context.Context, op, id string, fn func(*model.Task)) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, errkind.Newf(errkind.InvalidState, op, "unknown task %s", id)
	}
	fn(&t)
	t.UpdatedAt = s.now()

	// Durable write first: a crash after this point replays the same
	// state on the next load instead of losing the mutation.
	if err := s.backend.Upsert(ctx, t); err != nil {
		return model.Task{}, errkind.New(errkind.Internal, op, err)
	}
	s.tasks[id] = t
	s.publishStatsLocked()
	return t, nil
}

func (s *Store) publishStatsLocked() {
	tasks := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.stats.Set(model.ComputeStatistics(tasks, s.now()))
}
