package sensors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/observability"
	"github.com/taishanglaojun/wearsync/pkg/watch"
)

// Config tunes the sensor manager.
type Config struct {
	// HeartRateStaleness is how long a heart-rate reading stays live
	// with no fresh callback before the snapshot reports nil.
	HeartRateStaleness time.Duration
	// SessionRate caps how many active-session callbacks per second
	// reach the merge; excess high-rate readings are dropped.
	SessionRate  rate.Limit
	SessionBurst int
}

// DefaultConfig returns tuning for watch-class hardware.
func DefaultConfig() Config {
	return Config{
		HeartRateStaleness: 30 * time.Second,
		SessionRate:        10,
		SessionBurst:       20,
	}
}

// Manager owns the single mutable HealthMetrics record. Passive,
// heart-rate and exercise-session callbacks all serialize through its
// mutex; everything published outward is a copy.
type Manager struct {
	cfg      Config
	platform Platform
	logger   *slog.Logger
	obs      *observability.Provider
	now      func() time.Time

	metricsCell *watch.Value[model.HealthMetrics]
	sessionCell *watch.Value[model.ExerciseSession]

	mu         sync.Mutex
	metrics    model.HealthMetrics
	caps       model.CapabilitySet
	capsKnown  bool
	session         model.ExerciseSession
	sessionSub      Subscription
	sessionStarting bool
	sessionLim      *rate.Limiter
	pausedAt        time.Time
	pausedFor       time.Duration
	passiveSub      Subscription
	hrSub           Subscription
	hrStarting      bool
	hrTimer         *time.Timer
	lastHRAt        time.Time
	closed          bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObservability wires the metrics provider.
func WithObservability(p *observability.Provider) Option {
	return func(m *Manager) { m.obs = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over the given platform.
func New(cfg Config, platform Platform, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		platform:    platform,
		logger:      slog.Default().With("component", "sensors"),
		now:         time.Now,
		metricsCell: watch.NewValue(model.HealthMetrics{}),
		sessionCell: watch.NewValue(model.ExerciseSession{State: model.SessionIdle}),
		session:     model.ExerciseSession{State: model.SessionIdle},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start checks capabilities and opens the passive subscription. Safe to
// call on hardware with no sensors at all; the manager simply has
// nothing to merge.
func (m *Manager) Start(ctx context.Context) error {
	caps, err := m.CheckCapabilities(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "capability query failed, continuing without sensors", "error", err)
		return nil
	}
	if len(caps) == 0 {
		m.logger.InfoContext(ctx, "no sensor capabilities on this hardware")
		return nil
	}

	sub, err := m.platform.SubscribePassive(ctx, func(r Reading) { m.onPassive(ctx, r) })
	if err != nil {
		return errkind.New(errkind.SensorUnavailable, "sensors.Start", err)
	}
	m.mu.Lock()
	m.passiveSub = sub
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "passive telemetry started", "capabilities", len(caps))
	return nil
}

// CheckCapabilities queries the platform once and caches the answer.
// Absent sensors are reported as an empty set, never a crash.
func (m *Manager) CheckCapabilities(ctx context.Context) (model.CapabilitySet, error) {
	m.mu.Lock()
	if m.capsKnown {
		caps := m.caps
		m.mu.Unlock()
		return caps, nil
	}
	m.mu.Unlock()

	caps, err := m.platform.Capabilities(ctx)
	if err != nil {
		return model.CapabilitySet{}, errkind.New(errkind.SensorUnavailable, "sensors.CheckCapabilities", err)
	}
	if caps == nil {
		caps = model.CapabilitySet{}
	}
	m.mu.Lock()
	m.caps, m.capsKnown = caps, true
	m.mu.Unlock()
	return caps, nil
}

// StartExerciseTracking opens an exercise session. Starting while a
// session is Active or Paused is refused with InvalidState; a platform
// failure leaves the session Idle with nothing half-acquired.
func (m *Manager) StartExerciseTracking(ctx context.Context, kind string) error {
	// Reserve the session before the platform call so a second caller
	// cannot slip past the guard while the open is in flight.
	m.mu.Lock()
	if m.sessionStarting {
		m.mu.Unlock()
		return errkind.Newf(errkind.InvalidState, "sensors.StartExerciseTracking",
			"session start already in flight")
	}
	if m.session.State == model.SessionActive || m.session.State == model.SessionPaused {
		state := m.session.State
		m.mu.Unlock()
		return errkind.Newf(errkind.InvalidState, "sensors.StartExerciseTracking",
			"session already %s", state)
	}
	m.sessionStarting = true
	m.mu.Unlock()

	sub, err := m.platform.OpenSession(ctx, kind, func(r Reading) { m.onSession(ctx, r) })

	m.mu.Lock()
	m.sessionStarting = false
	if err != nil {
		m.mu.Unlock()
		return errkind.New(errkind.SensorUnavailable, "sensors.StartExerciseTracking", err)
	}
	m.sessionSub = sub
	m.sessionLim = rate.NewLimiter(m.cfg.SessionRate, m.cfg.SessionBurst)
	m.session = model.ExerciseSession{
		State:     model.SessionActive,
		Kind:      kind,
		StartedAt: m.now(),
	}
	m.pausedFor = 0
	snapshot := m.session
	m.mu.Unlock()

	m.sessionCell.Set(snapshot)
	m.logger.InfoContext(ctx, "exercise session started", "kind", kind)
	return nil
}

// PauseExerciseTracking pauses an Active session.
func (m *Manager) PauseExerciseTracking() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != model.SessionActive {
		return errkind.Newf(errkind.InvalidState, "sensors.PauseExerciseTracking",
			"session is %s", m.session.State)
	}
	m.session.State = model.SessionPaused
	m.pausedAt = m.now()
	m.sessionCell.Set(m.session)
	return nil
}

// ResumeExerciseTracking resumes a Paused session.
func (m *Manager) ResumeExerciseTracking() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != model.SessionPaused {
		return errkind.Newf(errkind.InvalidState, "sensors.ResumeExerciseTracking",
			"session is %s", m.session.State)
	}
	m.pausedFor += m.now().Sub(m.pausedAt)
	m.session.State = model.SessionActive
	m.sessionCell.Set(m.session)
	return nil
}

// StopExerciseTracking tears the session down, flushes the final
// deltas into HealthMetrics and returns to Idle. Safe and a no-op when
// no session is open; never leaves a dangling sensor registration.
func (m *Manager) StopExerciseTracking() {
	m.mu.Lock()
	sub := m.sessionSub
	m.sessionSub = nil
	m.sessionLim = nil

	if m.session.State == model.SessionIdle {
		m.mu.Unlock()
		if sub != nil {
			sub.Stop()
		}
		return
	}

	if m.session.State == model.SessionPaused {
		m.pausedFor += m.now().Sub(m.pausedAt)
	}
	active := m.now().Sub(m.session.StartedAt) - m.pausedFor
	if active < 0 {
		active = 0
	}
	m.session.ActiveMinutes = int(active / time.Minute)
	m.session.State = model.SessionEnded
	ended := m.session

	m.metrics.ActiveMinutes += ended.ActiveMinutes
	m.metrics.LastUpdated = m.now()
	metrics := m.metrics.Clone()

	m.session = model.ExerciseSession{State: model.SessionIdle}
	m.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	m.metricsCell.Set(metrics)
	m.sessionCell.Set(ended)
	m.sessionCell.Set(model.ExerciseSession{State: model.SessionIdle})
	m.logger.Info("exercise session stopped",
		"kind", ended.Kind, "active_minutes", ended.ActiveMinutes)
}

// StartHeartRateMonitoring opens the passive heart-rate stream,
// independent of any exercise session.
func (m *Manager) StartHeartRateMonitoring(ctx context.Context) error {
	caps, err := m.CheckCapabilities(ctx)
	if err != nil {
		return err
	}
	if !caps.Has(model.SensorHeartRate) {
		return errkind.Newf(errkind.SensorUnavailable, "sensors.StartHeartRateMonitoring",
			"no heart rate sensor on this hardware")
	}

	// Same reservation as StartExerciseTracking; concurrent callers
	// attach to the stream being opened rather than subscribing twice.
	m.mu.Lock()
	if m.hrSub != nil || m.hrStarting {
		m.mu.Unlock()
		return nil
	}
	m.hrStarting = true
	m.mu.Unlock()

	sub, err := m.platform.SubscribeHeartRate(ctx, func(r Reading) { m.onHeartRate(ctx, r) })

	m.mu.Lock()
	m.hrStarting = false
	if err != nil {
		m.mu.Unlock()
		return errkind.New(errkind.SensorUnavailable, "sensors.StartHeartRateMonitoring", err)
	}
	m.hrSub = sub
	m.mu.Unlock()
	return nil
}

// StopHeartRateMonitoring releases the heart-rate stream and clears the
// live reading. Idempotent.
func (m *Manager) StopHeartRateMonitoring() {
	m.mu.Lock()
	sub := m.hrSub
	m.hrSub = nil
	if m.hrTimer != nil {
		m.hrTimer.Stop()
		m.hrTimer = nil
	}
	m.metrics.HeartRateBPM = nil
	metrics := m.metrics.Clone()
	m.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	m.metricsCell.Set(metrics)
}

// Metrics returns an atomic copy of the current snapshot.
func (m *Manager) Metrics() model.HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics.Clone()
}

// MetricsWatch exposes the snapshot cell for subscription.
func (m *Manager) MetricsWatch() *watch.Value[model.HealthMetrics] {
	return m.metricsCell
}

// SessionState returns the current exercise session state.
func (m *Manager) SessionState() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Session returns a copy of the current session record.
func (m *Manager) Session() model.ExerciseSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// SessionWatch exposes the session cell for subscription.
func (m *Manager) SessionWatch() *watch.Value[model.ExerciseSession] {
	return m.sessionCell
}

// TodaysHealthData aggregates the passive daily totals as of now.
func (m *Manager) TodaysHealthData() DailyTotals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DailyTotals{
		Steps:          m.metrics.Steps,
		Calories:       m.metrics.Calories,
		DistanceMeters: m.metrics.DistanceMeters,
		AsOf:           m.now(),
	}
}

// Close releases every open subscription. Stop is reachable from every
// state, so teardown is unconditional.
func (m *Manager) Close() {
	m.StopExerciseTracking()
	m.StopHeartRateMonitoring()

	m.mu.Lock()
	sub := m.passiveSub
	m.passiveSub = nil
	m.closed = true
	m.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

func (m *Manager) onPassive(ctx context.Context, r Reading) {
	if r.Err != nil {
		m.logger.WarnContext(ctx, "passive sensor failed, releasing", "error", r.Err)
		m.mu.Lock()
		sub := m.passiveSub
		m.passiveSub = nil
		m.mu.Unlock()
		if sub != nil {
			sub.Stop()
		}
		return
	}
	m.mergeReading(r)
	m.obs.RecordSensorCallback(ctx, "passive")
}

func (m *Manager) onSession(ctx context.Context, r Reading) {
	if r.Err != nil {
		m.logger.WarnContext(ctx, "session sensor failed, ending session", "error", r.Err)
		m.StopExerciseTracking()
		return
	}

	m.mu.Lock()
	if m.session.State != model.SessionActive {
		m.mu.Unlock()
		return
	}
	if m.sessionLim != nil && !m.sessionLim.Allow() {
		m.mu.Unlock()
		return
	}
	if r.Steps != nil {
		m.session.StepsDelta += *r.Steps
	}
	if r.Calories != nil {
		m.session.CaloriesDelta += *r.Calories
	}
	if r.DistanceMeters != nil {
		m.session.DistanceDelta += *r.DistanceMeters
	}
	m.mu.Unlock()

	m.mergeReading(r)
	m.obs.RecordSensorCallback(ctx, "session")
}

func (m *Manager) onHeartRate(ctx context.Context, r Reading) {
	if r.Err != nil {
		m.logger.WarnContext(ctx, "heart rate sensor failed, releasing", "error", r.Err)
		m.StopHeartRateMonitoring()
		return
	}
	if r.HeartRateBPM == nil {
		return
	}
	m.mergeReading(r)
	m.obs.RecordSensorCallback(ctx, "heart_rate")
}

// expireHeartRate nulls the live reading once the staleness window
// passes with no fresh callback. Steps and calories keep updating
// independently; only the heart rate goes stale.
func (m *Manager) expireHeartRate() {
	m.mu.Lock()
	if m.now().Sub(m.lastHRAt) < m.cfg.HeartRateStaleness {
		m.mu.Unlock()
		return
	}
	m.metrics.HeartRateBPM = nil
	metrics := m.metrics.Clone()
	m.mu.Unlock()
	m.metricsCell.Set(metrics)
	m.logger.Debug("heart rate reading went stale")
}

// mergeReading folds one callback into the snapshot by field-level
// overwrite, never a full-record replace. Any heart-rate write re-arms
// the staleness timer, whichever stream it arrived on.
func (m *Manager) mergeReading(r Reading) {
	m.mu.Lock()
	at := r.At
	if at.IsZero() {
		at = m.now()
	}
	if r.Steps != nil {
		m.metrics.Steps += *r.Steps
	}
	if r.Calories != nil {
		m.metrics.Calories += *r.Calories
	}
	if r.DistanceMeters != nil {
		m.metrics.DistanceMeters += *r.DistanceMeters
	}
	if r.HeartRateBPM != nil {
		bpm := *r.HeartRateBPM
		m.metrics.HeartRateBPM = &bpm
		m.lastHRAt = at
		if m.hrTimer != nil {
			m.hrTimer.Stop()
		}
		if m.cfg.HeartRateStaleness > 0 {
			m.hrTimer = time.AfterFunc(m.cfg.HeartRateStaleness, m.expireHeartRate)
		}
	}
	m.metrics.LastUpdated = at
	metrics := m.metrics.Clone()
	m.mu.Unlock()
	m.metricsCell.Set(metrics)
}
