package utils

import (
	"context"
	"sync"
)

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// RunInPool applies worker to each input on at most maxWorkers goroutines.
// The i-th result belongs to the i-th input. Inputs not yet started when ctx
// is cancelled complete with the context's error.
func RunInPool[In any, Out any](ctx context.Context, inputs []In, maxWorkers int, worker func(context.Context, In) (Out, error)) []CompletedTask[Out] {
	completed := make([]CompletedTask[Out], len(inputs))
	if len(inputs) == 0 {
		return completed
	}

	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	workers := min(len(inputs), max(maxWorkers, 1))

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for i := range queue {
				if err := ctx.Err(); err != nil {
					completed[i] = CompletedTask[Out]{Error: err}
					continue
				}
				res, err := worker(ctx, inputs[i])
				completed[i] = CompletedTask[Out]{Result: res, Error: err}
			}
		}()
	}
	wg.Wait()

	return completed
}
