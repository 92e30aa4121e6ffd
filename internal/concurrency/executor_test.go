package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_LimitAndIndependentFailure(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	started := map[int]bool{}
	boom := errors.New("task 3 failed")

	tasks := make([]Task, 5)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) error {
			mu.Lock()
			started[i+1] = true
			mu.Unlock()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)

			if i+1 == 3 {
				return boom
			}
			return nil
		}
	}

	errs := Run(context.Background(), 2, tasks)

	require.Len(t, errs, 5)
	for i, err := range errs {
		if i == 2 {
			assert.ErrorIs(t, err, boom)
			continue
		}
		assert.NoError(t, err, "task %d", i+1)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}, started)
}

func TestRun_NewTaskStartsWhenSlotFrees(t *testing.T) {
	release := make(chan struct{})
	var order []int
	var mu sync.Mutex
	record := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	tasks := []Task{
		func(ctx context.Context) error { <-release; record(0); return nil },
		func(ctx context.Context) error { record(1); return nil },
		func(ctx context.Context) error { record(2); close(release); return nil },
	}

	errs := Run(context.Background(), 2, tasks)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	// task 2 only gets a slot after task 1 finishes, and unblocks task 0
	assert.Equal(t, []int{1, 2, 0}, order)
}

func TestRun_RecoversPanics(t *testing.T) {
	tasks := []Task{
		func(ctx context.Context) error { panic("kaboom") },
		func(ctx context.Context) error { return nil },
	}

	errs := Run(context.Background(), 1, tasks)

	var pe *PanicError
	require.ErrorAs(t, errs[0], &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NoError(t, errs[1])
}

func TestRun_CanceledContextMarksUnstartedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int32

	tasks := []Task{
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); cancel(); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
	}

	errs := Run(ctx, 1, tasks)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	// with limit 1 the second task cannot acquire before the first releases,
	// by which point ctx is canceled
	assert.ErrorIs(t, errs[2], context.Canceled)
}

func TestRun_DefaultLimitAndEmpty(t *testing.T) {
	assert.Empty(t, Run(context.Background(), 0, nil))

	var n int32
	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error { atomic.AddInt32(&n, 1); return nil }
	}
	Run(context.Background(), -1, tasks)
	assert.Equal(t, int32(12), n)
}
