// Package engine provides the synchronization orchestrator, the single
// façade the presentation layer talks to. It holds no state of its own
// beyond transient UI-facing flags; tasks, link state and telemetry are
// read through to their owning components.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/connectivity"
	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/reward"
	"github.com/taishanglaojun/wearsync/pkg/sensors"
	"github.com/taishanglaojun/wearsync/pkg/taskstore"
	"github.com/taishanglaojun/wearsync/pkg/watch"
)

// Status is the orchestrator's transient UI-facing state.
type Status struct {
	IsLoading       bool
	LastError       error
	LastRefreshTime time.Time
}

// Orchestrator composes the task store, connectivity manager and sensor
// manager into one reactive surface.
type Orchestrator struct {
	tasks   *taskstore.Store
	link    *connectivity.Manager
	sensors *sensors.Manager
	logger  *slog.Logger
	now     func() time.Time
	status  *watch.Value[Status]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator over its three collaborators.
func New(tasks *taskstore.Store, link *connectivity.Manager, sensorMgr *sensors.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tasks:   tasks,
		link:    link,
		sensors: sensorMgr,
		logger:  slog.Default().With("component", "engine"),
		now:     time.Now,
		status:  watch.NewValue(Status{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the transient flags.
func (o *Orchestrator) Status() Status {
	return o.status.Get()
}

// StatusWatch exposes the flags for subscription.
func (o *Orchestrator) StatusWatch() *watch.Value[Status] {
	return o.status
}

// RefreshData runs the startup sequence: mark loading, initialize
// connectivity, load the cached tasks, clear loading. The first
// failure records a descriptive error and stops; nothing is partially
// applied.
func (o *Orchestrator) RefreshData(ctx context.Context) error {
	o.status.Update(func(s Status) Status {
		s.IsLoading = true
		return s
	})

	o.link.Initialize(ctx)

	if err := o.tasks.LoadTasks(ctx); err != nil {
		o.logger.ErrorContext(ctx, "refresh failed loading cached tasks", "error", err)
		o.status.Update(func(s Status) Status {
			s.IsLoading = false
			s.LastError = err
			return s
		})
		return err
	}

	now := o.now()
	o.status.Update(func(s Status) Status {
		s.IsLoading = false
		s.LastError = nil
		s.LastRefreshTime = now
		return s
	})
	return nil
}

// AcceptTask applies the optimistic local transition to Accepted, then
// requests the same mutation remotely. A remote failure surfaces as
// LastError but never rolls the local state back; a later sync merge is
// the correction path.
func (o *Orchestrator) AcceptTask(ctx context.Context, taskID string) error {
	if _, err := o.tasks.UpdateTaskStatus(ctx, taskID, model.TaskAccepted); err != nil {
		o.setError(err)
		return err
	}
	if err := o.link.AcceptTask(ctx, taskID); err != nil {
		o.setError(err)
		return err
	}
	o.clearError()
	return nil
}

// StartTask moves a task to InProgress locally and reports it remotely.
func (o *Orchestrator) StartTask(ctx context.Context, taskID string) error {
	t, err := o.tasks.UpdateTaskStatus(ctx, taskID, model.TaskInProgress)
	if err != nil {
		o.setError(err)
		return err
	}
	if err := o.link.UpdateTaskProgress(ctx, taskID, t.Progress, "started"); err != nil {
		o.setError(err)
		return err
	}
	o.clearError()
	return nil
}

// CompleteTask completes a task locally, scores the completion bonus
// from the current telemetry snapshot and reports completion remotely.
// The bonus is returned even when the remote call fails; local
// completion stands.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string) (int, error) {
	if _, err := o.tasks.UpdateTaskStatus(ctx, taskID, model.TaskCompleted); err != nil {
		o.setError(err)
		return 0, err
	}

	bonus := reward.BonusFromMetrics(o.sensors.Metrics())
	o.logger.InfoContext(ctx, "task completed", "task", taskID, "bonus", bonus)

	if err := o.link.UpdateTaskProgress(ctx, taskID, 1.0, "completed"); err != nil {
		o.setError(err)
		return bonus, err
	}
	o.clearError()
	return bonus, nil
}

// ForceSync triggers an immediate full exchange.
func (o *Orchestrator) ForceSync(ctx context.Context) error {
	if err := o.link.ForceSync(ctx); err != nil {
		o.setError(err)
		return err
	}
	o.clearError()
	return nil
}

// RetryLastAction re-invokes the operation matching the current error's
// kind: link and timeout failures retry the exchange, everything else
// reloads. Dispatch is on kind, never on message text. A clean state is
// a no-op.
func (o *Orchestrator) RetryLastAction(ctx context.Context) error {
	last := o.status.Get().LastError
	if last == nil {
		return nil
	}
	if errkind.KindOf(last).Retryable() {
		return o.ForceSync(ctx)
	}
	return o.RefreshData(ctx)
}

// Statistics reads through to the task store projection.
func (o *Orchestrator) Statistics() model.TaskStatistics {
	return o.tasks.Statistics()
}

// RecentTasks reads through to the task store.
func (o *Orchestrator) RecentTasks(limit int) []model.Task {
	return o.tasks.RecentTasks(limit)
}

// ConnectionStatus reads through to the connectivity manager.
func (o *Orchestrator) ConnectionStatus() model.LinkStatus {
	return o.link.Status()
}

// HealthMetrics reads through to the sensor manager.
func (o *Orchestrator) HealthMetrics() model.HealthMetrics {
	return o.sensors.Metrics()
}

// HealthGoalMet reports the daily goal from the current snapshot.
func (o *Orchestrator) HealthGoalMet() bool {
	m := o.sensors.Metrics()
	return reward.HealthGoalMet(m.Steps, m.Calories)
}

// StartExerciseTracking delegates to the sensor manager, recording any
// failure as LastError.
func (o *Orchestrator) StartExerciseTracking(ctx context.Context, kind string) error {
	if err := o.sensors.StartExerciseTracking(ctx, kind); err != nil {
		o.setError(err)
		return err
	}
	return nil
}

// PauseExerciseTracking delegates to the sensor manager.
func (o *Orchestrator) PauseExerciseTracking() error {
	if err := o.sensors.PauseExerciseTracking(); err != nil {
		o.setError(err)
		return err
	}
	return nil
}

// ResumeExerciseTracking delegates to the sensor manager.
func (o *Orchestrator) ResumeExerciseTracking() error {
	if err := o.sensors.ResumeExerciseTracking(); err != nil {
		o.setError(err)
		return err
	}
	return nil
}

// StopExerciseTracking delegates to the sensor manager; stop never
// fails.
func (o *Orchestrator) StopExerciseTracking() {
	o.sensors.StopExerciseTracking()
}

// StartHeartRateMonitoring delegates to the sensor manager.
func (o *Orchestrator) StartHeartRateMonitoring(ctx context.Context) error {
	if err := o.sensors.StartHeartRateMonitoring(ctx); err != nil {
		o.setError(err)
		return err
	}
	return nil
}

// StopHeartRateMonitoring delegates to the sensor manager.
func (o *Orchestrator) StopHeartRateMonitoring() {
	o.sensors.StopHeartRateMonitoring()
}

func (o *Orchestrator) setError(err error) {
	o.status.Update(func(s Status) Status {
		s.LastError = err
		return s
	})
}

func (o *Orchestrator) clearError() {
	o.status.Update(func(s Status) Status {
		s.LastError = nil
		return s
	})
}
