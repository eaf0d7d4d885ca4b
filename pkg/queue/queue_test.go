package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDequeueReturnsOnlyDueItems(t *testing.T) {
	q := New()

	due := &PendingFine{MemberID: 1, Amount: 25, RetryAt: time.Now().Add(-time.Second)}
	notDue := &PendingFine{MemberID: 2, Amount: 10, RetryAt: time.Now().Add(time.Hour)}
	q.Enqueue(due)
	q.Enqueue(notDue)

	got := q.Dequeue()
	assert.Equal(t, due, got)
	assert.Equal(t, 1, q.Size())

	assert.Nil(t, q.Dequeue())
	assert.Equal(t, 1, q.Size())
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	f := &PendingFine{MemberID: 1, RetryAt: time.Now().Add(-time.Second)}
	q.Enqueue(f)

	assert.Equal(t, f, q.Peek())
	assert.Equal(t, 1, q.Size())
}

func TestItemsReturnsCopy(t *testing.T) {
	q := New()
	q.Enqueue(&PendingFine{MemberID: 1})
	q.Enqueue(&PendingFine{MemberID: 2})

	items := q.Items()
	assert.Len(t, items, 2)

	items[0] = nil
	assert.NotNil(t, q.Items()[0])
}
