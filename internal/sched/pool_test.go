package sched

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guti2010/compute-server/internal/metrics"
	"github.com/Guti2010/compute-server/internal/resp"
)

func ok() Run {
	return func(ctx context.Context) resp.Result { return resp.PlainOK("ok") }
}

func TestSubmitRunsAndReturnsResult(t *testing.T) {
	p := New("cpu_bound", 1, 4, nil)
	defer p.Close()

	r := p.Submit(context.Background(), "echo", time.Second, ok())
	assert.Equal(t, 200, r.Status)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	// One worker, zero queue slack: the worker immediately dequeues the
	// first task, so a second concurrent submit must fill the one-deep
	// channel buffer and the third must be rejected.
	block := make(chan struct{})
	slow := Run(func(ctx context.Context) resp.Result {
		<-block
		return resp.PlainOK("done")
	})

	p := New("cpu_bound", 1, 1, nil)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Submit(context.Background(), "slow", 5*time.Second, slow)
	}()
	// give the worker time to pick up the first task so the queue is the
	// only thing between us and a QueueFull rejection.
	time.Sleep(50 * time.Millisecond)

	wg.Add(1)
	var second resp.Result
	go func() {
		defer wg.Done()
		second = p.Submit(context.Background(), "slow", 5*time.Second, slow)
	}()
	time.Sleep(50 * time.Millisecond)

	third := p.Submit(context.Background(), "slow", time.Second, ok())
	assert.Equal(t, 503, third.Status)

	close(block)
	wg.Wait()
	assert.Equal(t, 200, second.Status)
}

func TestSubmitTimesOutWhileRunning(t *testing.T) {
	p := New("io_bound", 1, 1, nil)
	defer p.Close()

	hang := Run(func(ctx context.Context) resp.Result {
		time.Sleep(200 * time.Millisecond)
		return resp.PlainOK("too late")
	})

	r := p.Submit(context.Background(), "hang", 20*time.Millisecond, hang)
	assert.Equal(t, 504, r.Status)
}

func TestSubmitHonorsCallerCancellation(t *testing.T) {
	p := New("io_bound", 1, 1, nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	hang := Run(func(ctx context.Context) resp.Result {
		<-ctx.Done()
		return resp.PlainOK("should not reach caller")
	})

	r := p.Submit(ctx, "hang", time.Second, hang)
	assert.Equal(t, 409, r.Status)
}

func TestHungHandlerIsAbandonedAndWorkerContinues(t *testing.T) {
	p := New("cpu_bound", 1, 2, nil)
	defer p.Close()

	release := make(chan struct{})
	hung := Run(func(ctx context.Context) resp.Result {
		<-release // ignores ctx entirely
		return resp.PlainOK("finally")
	})

	r := p.Submit(context.Background(), "hung", 20*time.Millisecond, hung)
	assert.Equal(t, 504, r.Status)

	// The single worker abandons the hung handler after deadline+grace and
	// must be serving new work long before the handler ever returns.
	r = p.Submit(context.Background(), "ok", time.Second, ok())
	assert.Equal(t, 200, r.Status)
	close(release)
}

func TestSubmitRecoversFromPanic(t *testing.T) {
	p := New("cpu_bound", 1, 1, nil)
	defer p.Close()

	boom := Run(func(ctx context.Context) resp.Result { panic("kaboom") })
	r := p.Submit(context.Background(), "boom", time.Second, boom)
	assert.Equal(t, 500, r.Status)
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	p := New("basic", 1, 1, nil)
	p.Close()

	r := p.Submit(context.Background(), "anything", time.Second, ok())
	assert.Equal(t, 409, r.Status)
}

func TestWorkersSnapshotHasStableIndexes(t *testing.T) {
	p := New("basic", 3, 4, nil)
	defer p.Close()

	ws := p.Workers()
	require.Len(t, ws, 3)
	for i, w := range ws {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, "basic", w.Pool)
		assert.Equal(t, os.Getpid(), w.Pid)
		assert.Empty(t, w.Serving)
	}
}

func TestPoolRecordsMetrics(t *testing.T) {
	col := metrics.New(100)
	p := New("cpu_bound", 2, 4, col)
	defer p.Close()

	for i := 0; i < 5; i++ {
		p.Submit(context.Background(), "isprime", time.Second, ok())
	}

	snap := col.Snapshot()
	cat, found := snap.Categories["cpu_bound"]
	require.True(t, found)
	assert.Equal(t, uint64(5), cat.Successful)
	assert.Equal(t, 2, cat.Workers)
	assert.Equal(t, 4, cat.Capacity)
}
