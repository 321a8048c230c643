package connectivity

import (
	"context"
	"time"

	"github.com/taishanglaojun/wearsync/pkg/model"
)

// MutationKind identifies a remote task mutation request.
type MutationKind string

const (
	// MutationAccept asks the peer to mark a task accepted.
	MutationAccept MutationKind = "ACCEPT"
	// MutationProgress reports task progress (1.0 completes the task).
	MutationProgress MutationKind = "PROGRESS"
)

// Mutation is one task mutation bound for the peer. RequestID is the
// idempotency key: replaying the same mutation after a timeout must not
// apply it twice on the peer.
type Mutation struct {
	RequestID string       `json:"request_id"`
	TaskID    string       `json:"task_id"`
	Kind      MutationKind `json:"kind"`
	Progress  float64      `json:"progress,omitempty"`
	Note      string       `json:"note,omitempty"`
	QueuedAt  time.Time    `json:"queued_at"`
}

// LinkEvent is pushed by a transport when the channel state changes
// underneath the manager, e.g. the peer walks out of radio range.
type LinkEvent struct {
	Up  bool
	Err error
}

// PeerTransport is the request/response channel to the authoritative
// peer. Implementations classify their failures with errkind: Link for
// unreachable, Timeout for exceeded deadlines, RemoteRejected for an
// explicit refusal.
type PeerTransport interface {
	// Discover locates the known peer. It is the Disconnected→Paired
	// step and does not open a channel.
	Discover(ctx context.Context) error
	// OpenChannel opens the live channel to a discovered peer. It is
	// the Paired→Connected step.
	OpenChannel(ctx context.Context) error
	// PullSince returns every task the peer changed after since.
	PullSince(ctx context.Context, since time.Time) ([]model.Task, error)
	// Send delivers one mutation.
	Send(ctx context.Context, m Mutation) error
	// Events streams asynchronous channel state changes. A transport
	// with no push capability may return nil.
	Events() <-chan LinkEvent
	// Close releases the channel and discovery resources.
	Close() error
}

// MergeSink receives pulled task deltas. It returns the ids for which
// the local copy won conflict resolution, so the manager can keep their
// queued mutations alive.
type MergeSink interface {
	ApplyRemoteMerge(ctx context.Context, remote []model.Task) ([]string, error)
}
