package transport

import (
	"context"
	"sync"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/connectivity"
	"github.com/taishanglaojun/wearsync/pkg/errkind"
	"github.com/taishanglaojun/wearsync/pkg/model"
)

// Loopback is an in-process peer holding its own authoritative task
// set. It backs hardware-free daemon runs and exchange tests: mutations
// apply to its task map the way the real peer would, and DropChannel
// simulates the peer walking out of radio range.
type Loopback struct {
	mu         sync.Mutex
	tasks      map[string]model.Task
	discovered bool
	open       bool
	events     chan connectivity.LinkEvent
	now        func() time.Time
}

var _ connectivity.PeerTransport = (*Loopback)(nil)

// NewLoopback creates an empty loopback peer.
func NewLoopback() *Loopback {
	return &Loopback{
		tasks:  make(map[string]model.Task),
		events: make(chan connectivity.LinkEvent, 4),
		now:    time.Now,
	}
}

// SeedTask installs a task on the peer side, as if assigned remotely.
func (l *Loopback) SeedTask(t model.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = l.now()
	}
	l.tasks[t.ID] = t
}

// PeerTask returns the peer-side copy of a task.
func (l *Loopback) PeerTask(id string) (model.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[id]
	return t, ok
}

// DropChannel simulates losing the live channel.
func (l *Loopback) DropChannel() {
	l.mu.Lock()
	l.open = false
	l.mu.Unlock()
	l.events <- connectivity.LinkEvent{Up: false, Err: errkind.Newf(errkind.Link, "transport.loopback", "channel dropped")}
}

func (l *Loopback) Discover(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovered = true
	return nil
}

func (l *Loopback) OpenChannel(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.discovered {
		return errkind.Newf(errkind.Link, "transport.loopback", "peer not discovered")
	}
	l.open = true
	return nil
}

func (l *Loopback) PullSince(ctx context.Context, since time.Time) ([]model.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil, errkind.Newf(errkind.Link, "transport.loopback", "channel not open")
	}
	var out []model.Task
	for _, t := range l.tasks {
		if t.UpdatedAt.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *Loopback) Send(ctx context.Context, m connectivity.Mutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return errkind.Newf(errkind.Link, "transport.loopback", "channel not open")
	}
	t, ok := l.tasks[m.TaskID]
	if !ok {
		return errkind.Newf(errkind.RemoteRejected, "transport.loopback", "unknown task %s", m.TaskID)
	}
	switch m.Kind {
	case connectivity.MutationAccept:
		t.Status = model.TaskAccepted
	case connectivity.MutationProgress:
		t.Progress = m.Progress
		if m.Progress >= 1.0 {
			t.Status = model.TaskCompleted
		} else if t.Status == model.TaskAccepted || t.Status == model.TaskPending {
			t.Status = model.TaskInProgress
		}
	default:
		return errkind.Newf(errkind.RemoteRejected, "transport.loopback", "unknown mutation kind %q", m.Kind)
	}
	t.Normalize()
	t.UpdatedAt = l.now()
	l.tasks[m.TaskID] = t
	return nil
}

func (l *Loopback) Events() <-chan connectivity.LinkEvent { return l.events }

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	return nil
}
