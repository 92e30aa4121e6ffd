// Package concurrency runs batches of independent tasks under a fixed parallelism cap.
package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is used when a non-positive limit is given.
const DefaultLimit = 5

// Task is one unit of work. Tasks must not assume anything about sibling order.
type Task func(ctx context.Context) error

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Run executes tasks with at most limit running at once and waits for all of
// them. errs[i] is the result of tasks[i]. A failing task never cancels its
// siblings; only ctx cancellation stops tasks that have not started yet, and
// those report ctx.Err().
func Run(ctx context.Context, limit int, tasks []Task) []error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	errs := make([]error, len(tasks))
	sem := semaphore.NewWeighted(int64(limit))

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				errs[j] = err
			}
			break
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			errs[i] = runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return errs
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}
