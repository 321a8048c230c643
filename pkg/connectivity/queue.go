package connectivity

// pendingQueue holds mutations awaiting a live channel. Ordering is
// FIFO by first enqueue per (task, kind); a later mutation for the same
// task and kind supersedes the queued one in place (last value wins).
// Callers hold the manager lock.
type pendingQueue struct {
	order   []queueKey
	entries map[queueKey]Mutation
}

type queueKey struct {
	taskID string
	kind   MutationKind
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{entries: make(map[queueKey]Mutation)}
}

func (q *pendingQueue) push(m Mutation) {
	key := queueKey{taskID: m.TaskID, kind: m.Kind}
	if _, exists := q.entries[key]; !exists {
		q.order = append(q.order, key)
	}
	q.entries[key] = m
}

// drain removes and returns every queued mutation in FIFO order.
func (q *pendingQueue) drain() []Mutation {
	out := make([]Mutation, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.entries[key])
	}
	q.order = q.order[:0]
	q.entries = make(map[queueKey]Mutation)
	return out
}

// dropTask removes queued mutations for a task whose local copy lost a
// merge; pushing them would reapply state the peer already superseded.
func (q *pendingQueue) dropTask(taskID string) {
	kept := q.order[:0]
	for _, key := range q.order {
		if key.taskID == taskID {
			delete(q.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	q.order = kept
}

func (q *pendingQueue) len() int { return len(q.order) }
