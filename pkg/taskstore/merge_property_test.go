//go:build property
// +build property

// Package taskstore_test contains property-based tests for merge
// convergence: replaying and reordering remote batches must not change
// the resulting task set.
package taskstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/taskstore"
)

type memBackend struct {
	tasks map[string]model.Task
}

func newMemBackend() *memBackend { return &memBackend{tasks: make(map[string]model.Task)} }

func (b *memBackend) Load(context.Context) ([]model.Task, error) {
	out := make([]model.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (b *memBackend) Upsert(_ context.Context, t model.Task) error {
	b.tasks[t.ID] = t
	return nil
}

func (b *memBackend) Close() error { return nil }

var statuses = []model.TaskStatus{
	model.TaskPending, model.TaskAccepted, model.TaskInProgress,
	model.TaskCompleted, model.TaskCancelled,
}

// genTasks builds a task batch from index/status/offset triples. IDs are
// drawn from a small pool so collisions between batches are common.
func makeTasks(ids []int, stats []int, offsets []int) []model.Task {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n := len(ids)
	if len(stats) < n {
		n = len(stats)
	}
	if len(offsets) < n {
		n = len(offsets)
	}
	out := make([]model.Task, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Task{
			ID:        string(rune('a' + ids[i]%6)),
			Title:     "t",
			Status:    statuses[stats[i]%len(statuses)],
			UpdatedAt: base.Add(time.Duration(offsets[i]%100) * time.Second),
		})
	}
	return out
}

func snapshotByID(s *taskstore.Store) map[string]model.Task {
	out := make(map[string]model.Task)
	for _, t := range s.Snapshot() {
		out[t.ID] = t
	}
	return out
}

func equalSets(a, b map[string]model.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ta := range a {
		tb, ok := b[id]
		if !ok {
			return false
		}
		if ta.Status != tb.Status || !ta.UpdatedAt.Equal(tb.UpdatedAt) || ta.Progress != tb.Progress {
			return false
		}
	}
	return true
}

// TestMergeIdempotence verifies replaying a batch is a no-op.
// Property: merge(merge(S, B), B) == merge(S, B)
func TestMergeIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Replaying a remote batch changes nothing", prop.ForAll(
		func(ids, stats, offsets []int) bool {
			batch := makeTasks(ids, stats, offsets)
			s := taskstore.New(newMemBackend())

			if _, err := s.ApplyRemoteMerge(context.Background(), batch); err != nil {
				return false
			}
			once := snapshotByID(s)

			if _, err := s.ApplyRemoteMerge(context.Background(), batch); err != nil {
				return false
			}
			return equalSets(once, snapshotByID(s))
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

// TestMergeOrderInsensitivity verifies batch order does not matter when
// timestamps are distinct per id.
// Property: merge(merge(S, A), B) == merge(merge(S, B), A) for batches
// without intra-id timestamp ties.
func TestMergeOrderInsensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Batch application order does not change the result", prop.ForAll(
		func(idsA, statsA, offA, idsB, statsB, offB []int) bool {
			a := makeTasks(idsA, statsA, offA)
			b := makeTasks(idsB, statsB, offB)

			// Ties between the two batches resolve in favour of whichever
			// arrived first, which is exactly the order dependence this
			// property excludes. Skip those cases.
			seen := make(map[string]map[int64]bool)
			for _, t := range a {
				if seen[t.ID] == nil {
					seen[t.ID] = make(map[int64]bool)
				}
				seen[t.ID][t.UpdatedAt.UnixNano()] = true
			}
			for _, t := range b {
				if seen[t.ID][t.UpdatedAt.UnixNano()] {
					return true
				}
			}

			s1 := taskstore.New(newMemBackend())
			if _, err := s1.ApplyRemoteMerge(context.Background(), a); err != nil {
				return false
			}
			if _, err := s1.ApplyRemoteMerge(context.Background(), b); err != nil {
				return false
			}

			s2 := taskstore.New(newMemBackend())
			if _, err := s2.ApplyRemoteMerge(context.Background(), b); err != nil {
				return false
			}
			if _, err := s2.ApplyRemoteMerge(context.Background(), a); err != nil {
				return false
			}

			return equalSets(snapshotByID(s1), snapshotByID(s2))
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
