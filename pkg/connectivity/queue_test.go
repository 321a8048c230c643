package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCoalescesPerTaskAndKind(t *testing.T) {
	q := newPendingQueue()
	q.push(Mutation{RequestID: "r1", TaskID: "t1", Kind: MutationProgress, Progress: 0.2})
	q.push(Mutation{RequestID: "r2", TaskID: "t1", Kind: MutationProgress, Progress: 0.8})
	q.push(Mutation{RequestID: "r3", TaskID: "t1", Kind: MutationAccept})

	assert.Equal(t, 2, q.len(), "progress updates for one task coalesce")

	out := q.drain()
	require.Len(t, out, 2)
	assert.Equal(t, 0.8, out[0].Progress, "later value supersedes the queued one")
	assert.Equal(t, MutationAccept, out[1].Kind)
}

func TestQueueDrainPreservesFirstEnqueueOrder(t *testing.T) {
	q := newPendingQueue()
	q.push(Mutation{TaskID: "a", Kind: MutationAccept})
	q.push(Mutation{TaskID: "b", Kind: MutationAccept})
	q.push(Mutation{TaskID: "a", Kind: MutationAccept}) // supersedes in place

	out := q.drain()
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].TaskID, "coalescing keeps the original position")
	assert.Equal(t, "b", out[1].TaskID)
	assert.Equal(t, 0, q.len(), "drain empties the queue")
}

func TestQueueDropTask(t *testing.T) {
	q := newPendingQueue()
	q.push(Mutation{TaskID: "a", Kind: MutationAccept})
	q.push(Mutation{TaskID: "a", Kind: MutationProgress, Progress: 0.5})
	q.push(Mutation{TaskID: "b", Kind: MutationAccept})

	q.dropTask("a")
	out := q.drain()
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].TaskID)
}
