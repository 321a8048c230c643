// Package connectivity owns the link to the paired peer: the
// Disconnected→Paired→Connected state machine, sync exchanges, and the
// pending-mutation queue for requests issued while the channel is down.
//
// The manager never panics or returns raw transport errors across its
// boundary; every failure is classified (errkind) and recorded on the
// published LinkStatus. A Connected link that fails demotes to Paired
// (the peer is still known, just unreachable) and reconnects with
// capped exponential backoff.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
	"github.com/taishanglaojun/wearsync/pkg/observability"
	"github.com/taishanglaojun/wearsync/pkg/watch"
)

// Config tunes the manager.
type Config struct {
	// BackoffBase is the first reconnect delay; each failure doubles it
	// up to BackoffMax. Success resets to base.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns reconnect tuning suitable for a low-power radio.
func DefaultConfig() Config {
	return Config{
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

// syncCall is one in-flight sync exchange; concurrent ForceSync callers
// attach to it instead of issuing a second exchange.
type syncCall struct {
	done chan struct{}
	err  error
}

// Manager owns the authoritative ConnectionState and all exchanges.
type Manager struct {
	cfg       Config
	transport PeerTransport
	merge     MergeSink
	logger    *slog.Logger
	obs       *observability.Provider
	now       func() time.Time

	status *watch.Value[model.LinkStatus]

	mu       sync.Mutex
	queue    *pendingQueue
	inflight *syncCall

	ctx        context.Context
	cancel     context.CancelFunc
	kick       chan struct{}
	initialize sync.Once
	wg         sync.WaitGroup
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

// New creates a Manager. Initialize must be called before exchanges
// happen on their own; ForceSync works regardless and connects on
// demand.
func New(cfg Config, transport PeerTransport, merge MergeSink, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		merge:     merge,
		logger:    slog.Default().With("component", "connectivity"),
		now:       time.Now,
		status:    watch.NewValue(model.LinkStatus{State: model.Disconnected}),
		queue:     newPendingQueue(),
		ctx:       ctx,
		cancel:    cancel,
		kick:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Initialize establishes the persistent discovery/listen posture.
// Idempotent; the state transitions Disconnected→Paired→Connected
// happen asynchronously as discovery completes.
func (m *Manager) Initialize(ctx context.Context) {
	m.initialize.Do(func() {
		m.logger.InfoContext(ctx, "connectivity initializing")
		m.wg.Add(2)
		go m.connectLoop()
		go m.eventLoop()
		m.kickConnect()
	})
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	return m.status.Get().State
}

// Status returns the full link snapshot.
func (m *Manager) Status() model.LinkStatus {
	return m.status.Get()
}

// StatusWatch exposes the link status cell for subscription.
func (m *Manager) StatusWatch() *watch.Value[model.LinkStatus] {
	return m.status
}

// PendingMutations reports how many mutations await a live channel.
func (m *Manager) PendingMutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// AcceptTask requests the peer mark the task accepted. Sent immediately
// when Connected, queued otherwise; queued accepts coalesce per task.
func (m *Manager) AcceptTask(ctx context.Context, taskID string) error {
	return m.submit(ctx, "connectivity.AcceptTask", Mutation{
		RequestID: uuid.NewString(),
		TaskID:    taskID,
		Kind:      MutationAccept,
		QueuedAt:  m.now(),
	})
}

// UpdateTaskProgress reports task progress to the peer. A later update
// for the same task supersedes a queued earlier one.
func (m *Manager) UpdateTaskProgress(ctx context.Context, taskID string, progress float64, note string) error {
	return m.submit(ctx, "connectivity.UpdateTaskProgress", Mutation{
		RequestID: uuid.NewString(),
		TaskID:    taskID,
		Kind:      MutationProgress,
		Progress:  progress,
		Note:      note,
		QueuedAt:  m.now(),
	})
}

// ForceSync triggers a full exchange: pull deltas since the last sync,
// merge them, push pending mutations, then advance lastSyncTime.
// Concurrent calls while an exchange is in flight attach to it instead
// of issuing a second one.
func (m *Manager) ForceSync(ctx context.Context) error {
	m.mu.Lock()
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &syncCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	call.err = m.doSync(ctx)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(call.done)
	return call.err
}

// Close stops reconnect attempts and releases the transport.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	return m.transport.Close()
}

func (m *Manager) doSync(ctx context.Context) error {
	start := m.now()

	if m.State() != model.Connected {
		if err := m.connectOnce(ctx); err != nil {
			m.obs.RecordExchangeError(ctx, string(errkind.KindOf(err)))
			return err
		}
	}

	since := m.status.Get().LastSyncTime
	remote, err := m.transport.PullSince(ctx, since)
	if err != nil {
		e := classify("connectivity.ForceSync", err)
		m.demote(e)
		m.obs.RecordExchangeError(ctx, string(errkind.KindOf(e)))
		return e
	}

	localWins, err := m.merge.ApplyRemoteMerge(ctx, remote)
	if err != nil {
		e := classify("connectivity.ForceSync", err)
		m.setError(e)
		m.obs.RecordExchangeError(ctx, string(errkind.KindOf(e)))
		return e
	}

	// Queued mutations for tasks the remote superseded are stale;
	// pushing them would resurrect state the peer already corrected.
	won := make(map[string]bool, len(localWins))
	for _, id := range localWins {
		won[id] = true
	}
	m.mu.Lock()
	for _, rt := range remote {
		if !won[rt.ID] {
			m.queue.dropTask(rt.ID)
		}
	}
	pending := m.queue.drain()
	m.mu.Unlock()

	var rejection error
	for i, p := range pending {
		if err := m.transport.Send(ctx, p); err != nil {
			e := classify("connectivity.ForceSync", err)
			if errkind.KindOf(e) == errkind.RemoteRejected {
				// Expected for stale ids; drop the mutation, keep going.
				m.logger.WarnContext(ctx, "peer rejected queued mutation",
					"task", p.TaskID, "kind", p.Kind, "error", e)
				rejection = e
				continue
			}
			// Channel gone: requeue everything unsent and demote.
			m.mu.Lock()
			for _, rest := range pending[i:] {
				m.queue.push(rest)
			}
			m.mu.Unlock()
			m.demote(e)
			m.obs.RecordExchangeError(ctx, string(errkind.KindOf(e)))
			return e
		}
	}

	finished := m.now()
	m.status.Update(func(s model.LinkStatus) model.LinkStatus {
		s.LastSyncTime = finished
		s.LastError = rejection
		return s
	})
	m.obs.RecordExchange(ctx, finished.Sub(start))
	m.logger.InfoContext(ctx, "sync completed",
		"pulled", len(remote), "pushed", len(pending), "duration", finished.Sub(start))
	return rejection
}

func (m *Manager) submit(ctx context.Context, op string, mut Mutation) error {
	if m.State() != model.Connected {
		m.mu.Lock()
		m.queue.push(mut)
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "mutation queued", "task", mut.TaskID, "kind", mut.Kind)
		return nil
	}

	if err := m.transport.Send(ctx, mut); err != nil {
		e := classify(op, err)
		if errkind.KindOf(e).Retryable() {
			m.mu.Lock()
			m.queue.push(mut)
			m.mu.Unlock()
			m.demote(e)
		} else {
			m.setError(e)
		}
		return e
	}
	return nil
}

// connectOnce walks the forward transitions a single time. The backoff
// loop handles repetition; this never retries on its own.
func (m *Manager) connectOnce(ctx context.Context) error {
	if m.State() == model.Disconnected {
		if err := m.transport.Discover(ctx); err != nil {
			e := classify("connectivity.Discover", err)
			m.setError(e)
			return e
		}
		m.setState(model.Paired)
		m.logger.InfoContext(ctx, "peer discovered")
	}
	if m.State() == model.Paired {
		if err := m.transport.OpenChannel(ctx); err != nil {
			e := classify("connectivity.OpenChannel", err)
			m.setError(e)
			return e
		}
		m.setState(model.Connected)
		m.logger.InfoContext(ctx, "channel open")
	}
	return nil
}

func (m *Manager) connectLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.kick:
		}

		delay := m.cfg.BackoffBase
		for m.State() != model.Connected {
			if err := m.connectOnce(m.ctx); err == nil {
				// Reconnect drains whatever queued while the channel
				// was down.
				go func() { _ = m.ForceSync(m.ctx) }()
				break
			}
			m.logger.Warn("peer connect failed, backing off", "retry_in", delay)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > m.cfg.BackoffMax {
				delay = m.cfg.BackoffMax
			}
		}
	}
}

func (m *Manager) eventLoop() {
	defer m.wg.Done()
	events := m.transport.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Up {
				continue
			}
			e := classify("connectivity.channel", ev.Err)
			m.demote(e)
		}
	}
}

func (m *Manager) kickConnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(state model.ConnectionState) {
	m.status.Update(func(s model.LinkStatus) model.LinkStatus {
		s.State = state
		if state == model.Connected {
			s.LastError = nil
		}
		return s
	})
}

func (m *Manager) setError(err error) {
	m.status.Update(func(s model.LinkStatus) model.LinkStatus {
		s.LastError = err
		return s
	})
}

// demote records a failure on a live channel. Connected drops to Paired,
// the peer still being known, and the reconnect loop takes over.
// Connected never transitions directly to Disconnected.
func (m *Manager) demote(err error) {
	m.status.Update(func(s model.LinkStatus) model.LinkStatus {
		if s.State == model.Connected {
			s.State = model.Paired
		}
		s.LastError = err
		return s
	})
	m.kickConnect()
}

// classify wraps transport failures that escaped kind classification.
// Deadline overruns are timeouts; everything else unclassified is a
// link failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errkind.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.New(errkind.Timeout, op, err)
	}
	return errkind.New(errkind.Link, op, err)
}
