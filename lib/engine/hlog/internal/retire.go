package internal

import (
	"container/heap"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Retired slots
// --------------------------------------------------------------------------

// Retired is a value slot that was replaced or deleted at Epoch
type Retired struct {
	Slot  []byte
	Epoch uint64
	next  *Retired
}

// RetireQueue is a lock-free multi-producer single-consumer queue of retired slots.
// Producers push onto an atomic stack; the consumer takes the whole stack at once.
//
// Thread-safety: Push is safe for concurrent use, Drain must only be called by
// the single consumer.
type RetireQueue struct {
	head   atomic.Pointer[Retired]
	length atomic.Int64
	notify chan struct{}
}

func NewRetireQueue() *RetireQueue {
	return &RetireQueue{notify: make(chan struct{}, 1)}
}

// Push adds a retired slot
func (q *RetireQueue) Push(r *Retired) {
	for {
		head := q.head.Load()
		r.next = head
		if q.head.CompareAndSwap(head, r) {
			break
		}
	}
	q.length.Add(1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives after pushes
func (q *RetireQueue) Notify() <-chan struct{} {
	return q.notify
}

// Drain removes all queued slots and passes them to fn in push order
func (q *RetireQueue) Drain(fn func(*Retired)) int {
	head := q.head.Swap(nil)

	// reverse the stack so older retirements come first
	var ordered *Retired
	for head != nil {
		next := head.next
		head.next = ordered
		ordered = head
		head = next
	}

	n := 0
	for ordered != nil {
		next := ordered.next
		ordered.next = nil
		fn(ordered)
		ordered = next
		n++
	}
	q.length.Add(-int64(n))
	return n
}

// Len returns the number of queued slots
func (q *RetireQueue) Len() int {
	if n := q.length.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// RetireHeap orders retired slots by epoch, oldest first. Only the reclaimer uses it.
type RetireHeap struct {
	items retiredItems
}

type retiredItems []*Retired

func (h retiredItems) Len() int           { return len(h) }
func (h retiredItems) Less(i, j int) bool { return h[i].Epoch < h[j].Epoch }
func (h retiredItems) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retiredItems) Push(x any)        { *h = append(*h, x.(*Retired)) }
func (h *retiredItems) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (h *RetireHeap) Add(r *Retired) {
	heap.Push(&h.items, r)
}

// PopBefore removes and returns the oldest slot if it was retired before epoch
func (h *RetireHeap) PopBefore(epoch uint64) (*Retired, bool) {
	if len(h.items) == 0 || h.items[0].Epoch >= epoch {
		return nil, false
	}
	return heap.Pop(&h.items).(*Retired), true
}

func (h *RetireHeap) Len() int {
	return len(h.items)
}
