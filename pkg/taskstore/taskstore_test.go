package taskstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
)

// fakeBackend is an in-memory Backend recording every write so tests can
// assert durability ordering.
type fakeBackend struct {
	mu      sync.Mutex
	tasks   map[string]model.Task
	writes  []string
	loadErr error
	failOn  string // task id whose Upsert fails
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tasks: make(map[string]model.Task)}
}

func (b *fakeBackend) Load(context.Context) ([]model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	out := make([]model.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (b *fakeBackend) Upsert(_ context.Context, t model.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn == t.ID {
		return errors.New("disk full")
	}
	b.tasks[t.ID] = t
	b.writes = append(b.writes, t.ID)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func task(id string, status model.TaskStatus, updated time.Time) model.Task {
	return model.Task{ID: id, Title: "task " + id, Status: status, Priority: model.PriorityMedium, UpdatedAt: updated}
}

func TestLoadTasksPopulatesFromBackend(t *testing.T) {
	b := newFakeBackend()
	b.tasks["t1"] = task("t1", model.TaskPending, at(1))
	b.tasks["t2"] = task("t2", model.TaskCompleted, at(2))

	s := New(b)
	require.NoError(t, s.LoadTasks(context.Background()))

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, model.TaskPending, got.Status)

	stats := s.Statistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
}

func TestLoadTasksBackendFailureIsInternal(t *testing.T) {
	b := newFakeBackend()
	b.loadErr = errors.New("corrupt file")
	s := New(b)

	err := s.LoadTasks(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
}

func TestApplyRemoteMergeNewerRemoteWins(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	_, err := s.Insert(context.Background(), task("t1", model.TaskPending, time.Time{}))
	require.NoError(t, err)

	remote := task("t1", model.TaskInProgress, time.Now().Add(time.Hour))
	localWins, err := s.ApplyRemoteMerge(context.Background(), []model.Task{remote})
	require.NoError(t, err)
	assert.Empty(t, localWins)

	got, _ := s.Get("t1")
	assert.Equal(t, model.TaskInProgress, got.Status)
}

func TestApplyRemoteMergeStaleRemoteLoses(t *testing.T) {
	b := newFakeBackend()
	now := at(10)
	s := New(b, WithClock(func() time.Time { return now }))
	_, err := s.Insert(context.Background(), task("t1", model.TaskInProgress, time.Time{}))
	require.NoError(t, err)

	stale := task("t1", model.TaskPending, at(5))
	localWins, err := s.ApplyRemoteMerge(context.Background(), []model.Task{stale})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, localWins)

	got, _ := s.Get("t1")
	assert.Equal(t, model.TaskInProgress, got.Status, "local copy retained")
}

func TestApplyRemoteMergeEqualTimestampKeepsLocal(t *testing.T) {
	b := newFakeBackend()
	now := at(10)
	s := New(b, WithClock(func() time.Time { return now }))
	_, err := s.Insert(context.Background(), task("t1", model.TaskAccepted, time.Time{}))
	require.NoError(t, err)

	tied := task("t1", model.TaskCancelled, now)
	localWins, err := s.ApplyRemoteMerge(context.Background(), []model.Task{tied})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, localWins, "ties resolve to the local copy")

	got, _ := s.Get("t1")
	assert.Equal(t, model.TaskAccepted, got.Status)
}

func TestApplyRemoteMergeIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	remote := []model.Task{
		task("t1", model.TaskPending, at(1)),
		task("t2", model.TaskInProgress, at(2)),
	}

	_, err := s.ApplyRemoteMerge(context.Background(), remote)
	require.NoError(t, err)
	first := s.Snapshot()

	_, err = s.ApplyRemoteMerge(context.Background(), remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, first, s.Snapshot())
}

func TestApplyRemoteMergeNormalizesIncoming(t *testing.T) {
	b := newFakeBackend()
	s := New(b)

	// A peer may send Completed with a partial progress value.
	broken := task("t1", model.TaskCompleted, at(1))
	broken.Progress = 0.4
	_, err := s.ApplyRemoteMerge(context.Background(), []model.Task{broken})
	require.NoError(t, err)

	got, _ := s.Get("t1")
	assert.Equal(t, 1.0, got.Progress)
}

func TestMutationIsDurableBeforeVisible(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	_, err := s.Insert(context.Background(), task("t1", model.TaskPending, time.Time{}))
	require.NoError(t, err)

	// Make the next write fail: the in-memory copy must stay unchanged.
	b.failOn = "t1"
	_, err = s.UpdateTaskStatus(context.Background(), "t1", model.TaskAccepted)
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))

	got, _ := s.Get("t1")
	assert.Equal(t, model.TaskPending, got.Status, "failed write must not surface in memory")
}

func TestUpdateTaskStatusCompletedForcesProgress(t *testing.T) {
	b := newFakeBackend()
	now := at(3)
	s := New(b, WithClock(func() time.Time { return now }))
	_, err := s.Insert(context.Background(), task("t1", model.TaskInProgress, time.Time{}))
	require.NoError(t, err)

	got, err := s.UpdateTaskStatus(context.Background(), "t1", model.TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestUpdateUnknownTaskIsInvalidState(t *testing.T) {
	s := New(newFakeBackend())
	_, err := s.UpdateTaskStatus(context.Background(), "missing", model.TaskAccepted)
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidState, errkind.KindOf(err))
}

func TestSetProgressClampsAndCompletes(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	_, err := s.Insert(context.Background(), task("t1", model.TaskInProgress, time.Time{}))
	require.NoError(t, err)

	got, err := s.SetProgress(context.Background(), "t1", -0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Progress)

	got, err = s.SetProgress(context.Background(), "t1", 2.0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, model.TaskCompleted, got.Status)
}

func TestSetProgressNeverRevivesCancelled(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	_, err := s.Insert(context.Background(), task("t1", model.TaskCancelled, time.Time{}))
	require.NoError(t, err)

	got, err := s.SetProgress(context.Background(), "t1", 1.0)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, got.Status)
}

func TestInsertAssignsIDAndRejectsDuplicates(t *testing.T) {
	b := newFakeBackend()
	s := New(b)

	got, err := s.Insert(context.Background(), model.Task{Title: "local note"})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, model.TaskPending, got.Status)

	_, err = s.Insert(context.Background(), model.Task{ID: got.ID, Title: "again"})
	require.Error(t, err)
	assert.Equal(t, errkind.InvalidState, errkind.KindOf(err))
}

func TestRecentTasksOrdersByUpdateTime(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	_, err := s.ApplyRemoteMerge(context.Background(), []model.Task{
		task("a", model.TaskPending, at(1)),
		task("b", model.TaskPending, at(3)),
		task("c", model.TaskPending, at(2)),
		task("d", model.TaskPending, at(3)),
	})
	require.NoError(t, err)

	got := s.RecentTasks(3)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID, "ties break on id")
	assert.Equal(t, "d", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestStatisticsWatchPublishesOnMutation(t *testing.T) {
	b := newFakeBackend()
	s := New(b)
	ch, cancel := s.StatisticsWatch().Subscribe()
	defer cancel()
	<-ch // seed

	_, err := s.Insert(context.Background(), model.Task{Title: "x"})
	require.NoError(t, err)

	select {
	case stats := <-ch:
		assert.Equal(t, 1, stats.Total)
	case <-time.After(time.Second):
		t.Fatal("statistics change not published")
	}
}
