package queue

import (
	"sync"
	"time"
)

// PendingFine is an overdue fine that could not be written when its return
// was committed. The return itself is never rolled back for a fine failure,
// so the fine is parked here until an operator triggers reconciliation.
type PendingFine struct {
	MemberID      uint
	TransactionID uint
	Amount        float64
	Reason        string
	RetryAt       time.Time
	RetryCount    int
	MaxRetries    int
}

type Queue struct {
	items []*PendingFine
	mu    sync.Mutex
}

func New() *Queue {
	return &Queue{
		items: make([]*PendingFine, 0),
	}
}

func (q *Queue) Enqueue(f *PendingFine) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, f)
}

// Dequeue removes and returns the first fine whose retry time has passed,
// or nil if none is due.
func (q *Queue) Dequeue() *PendingFine {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, f := range q.items {
		if !f.RetryAt.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return f
		}
	}
	return nil
}

func (q *Queue) Peek() *PendingFine {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, f := range q.items {
		if !f.RetryAt.After(now) {
			return f
		}
	}
	return nil
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Items() []*PendingFine {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]*PendingFine, len(q.items))
	copy(result, q.items)
	return result
}
