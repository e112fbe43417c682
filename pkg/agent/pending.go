package agent

import (
	"container/heap"
	"time"

	"github.com/clustercore/noded/pkg/types"
)

// pendingEntry is one outstanding, unacknowledged status update. A
// framework's pending set holds at most one entry per TaskID, so a
// fresh update for a task in flight replaces rather than appends.
type pendingEntry struct {
	deadline time.Time
	taskID   types.TaskID
	update   types.StatusUpdateMessage
	index    int // heap bookkeeping
}

// pendingHeap is a min-heap over deadline, with an index for O(log n)
// removal-by-task-id on acknowledgement. A deadline bucket that is
// never revisited would leak retries; every resend re-inserts at a
// fresh deadline instead.
type pendingHeap struct {
	items []*pendingEntry
	byTask map[types.TaskID]*pendingEntry
}

func newPendingHeap() *pendingHeap {
	return &pendingHeap{byTask: make(map[types.TaskID]*pendingEntry)}
}

func (h *pendingHeap) Len() int { return len(h.items) }
func (h *pendingHeap) Less(i, j int) bool { return h.items[i].deadline.Before(h.items[j].deadline) }
func (h *pendingHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}
func (h *pendingHeap) Push(x any) {
	e := x.(*pendingEntry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}
func (h *pendingHeap) Pop() any {
	n := len(h.items)
	e := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return e
}

// Put records update as the pending entry for its task, replacing any
// existing entry for that task so at most one stays in flight.
func (h *pendingHeap) Put(deadline time.Time, update types.StatusUpdateMessage) {
	taskID := update.Update.TaskID
	if existing, ok := h.byTask[taskID]; ok {
		existing.deadline = deadline
		existing.update = update
		heap.Fix(h, existing.index)
		return
	}
	e := &pendingEntry{deadline: deadline, taskID: taskID, update: update}
	heap.Push(h, e)
	h.byTask[taskID] = e
}

// Ack removes the pending entry for taskID, if any. It reports
// whether an entry was found and removed — one acknowledgement
// removes exactly one pending entry.
func (h *pendingHeap) Ack(taskID types.TaskID) bool {
	e, ok := h.byTask[taskID]
	if !ok {
		return false
	}
	heap.Remove(h, e.index)
	delete(h.byTask, taskID)
	return true
}

// DropTask removes any pending entry for taskID without treating it
// as an acknowledgement (used when a task's owning executor is torn
// down).
func (h *pendingHeap) DropTask(taskID types.TaskID) {
	h.Ack(taskID)
}

// Due pops and returns every entry whose deadline has passed, in
// ascending deadline order.
func (h *pendingHeap) Due(now time.Time) []*pendingEntry {
	var due []*pendingEntry
	for h.Len() > 0 && !h.items[0].deadline.After(now) {
		e := heap.Pop(h).(*pendingEntry)
		delete(h.byTask, e.taskID)
		due = append(due, e)
	}
	return due
}

// Count reports the number of pending entries across all deadlines.
func (h *pendingHeap) Count() int { return len(h.items) }

// clone copies every entry into a fresh heap and index, for a Store
// snapshot handed to a caller outside the agent loop. The copy is
// read-only in practice (Snapshot consumers only ever call Count), but
// cloning the entries themselves rather than sharing pointers keeps
// that read-only-ness from being an unenforced convention.
func (h *pendingHeap) clone() *pendingHeap {
	out := &pendingHeap{
		items:  make([]*pendingEntry, len(h.items)),
		byTask: make(map[types.TaskID]*pendingEntry, len(h.byTask)),
	}
	for i, e := range h.items {
		copyEntry := *e
		copyEntry.index = i
		out.items[i] = &copyEntry
		out.byTask[copyEntry.taskID] = &copyEntry
	}
	return out
}
