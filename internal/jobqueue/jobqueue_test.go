package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRespectsCapacity(t *testing.T) {
	q := New(2, time.Minute)
	require.True(t, q.Enqueue("a", Normal))
	require.True(t, q.Enqueue("b", Normal))
	assert.False(t, q.Enqueue("c", Normal))

	inFlight, capacity := q.Len()
	assert.Equal(t, 2, inFlight)
	assert.Equal(t, 2, capacity)
}

func TestDequeueOrdersHighBeforeNormalBeforeLow(t *testing.T) {
	q := New(10, time.Minute)
	q.Enqueue("low1", Low)
	q.Enqueue("norm1", Normal)
	q.Enqueue("high1", High)
	q.Enqueue("norm2", Normal)

	ctx := context.Background()
	order := []string{}
	for i := 0; i < 4; i++ {
		id, ok := q.Dequeue(ctx)
		require.True(t, ok)
		order = append(order, id)
	}
	assert.Equal(t, []string{"high1", "norm1", "norm2", "low1"}, order)
}

func TestFIFOWithinBand(t *testing.T) {
	q := New(10, time.Minute)
	q.Enqueue("n1", Normal)
	q.Enqueue("n2", Normal)
	q.Enqueue("n3", Normal)

	ctx := context.Background()
	first, _ := q.Dequeue(ctx)
	second, _ := q.Dequeue(ctx)
	third, _ := q.Dequeue(ctx)
	assert.Equal(t, []string{"n1", "n2", "n3"}, []string{first, second, third})
}

func TestAgingPromotesLowToHighEventually(t *testing.T) {
	q := New(10, 10*time.Millisecond)
	q.Enqueue("old", Low)
	time.Sleep(60 * time.Millisecond)
	q.Enqueue("fresh_high", High)

	ctx := context.Background()
	// "old" has aged through Low->Normal->High twice over by now and must
	// come out ahead of a job that only just entered High.
	first, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "old", first)
}

func TestAgingDisabledKeepsStrictPriority(t *testing.T) {
	q := New(10, AgingDisabled)
	q.Enqueue("low", Low)
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("high", High)

	first, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "high", first)
}

func TestRemoveCancelsQueuedJob(t *testing.T) {
	q := New(5, time.Minute)
	q.Enqueue("a", Normal)
	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))

	inFlight, _ := q.Len()
	assert.Equal(t, 0, inFlight)
}

func TestReleaseFreesCapacityAfterDequeue(t *testing.T) {
	q := New(1, time.Minute)
	q.Enqueue("a", Normal)
	id, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", id)

	assert.False(t, q.Enqueue("b", Normal))
	q.Release()
	assert.True(t, q.Enqueue("b", Normal))
}

func TestDequeueUnblocksOnContextCancel(t *testing.T) {
	q := New(5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock on ctx cancellation")
	}
}

func TestCloseDrainsThenStopsDequeue(t *testing.T) {
	q := New(5, time.Minute)
	q.Enqueue("a", Normal)
	q.Close()

	id, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", id)

	_, ok = q.Dequeue(context.Background())
	assert.False(t, ok)
}
