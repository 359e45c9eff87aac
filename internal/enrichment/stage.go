package enrichment

import (
	"context"
	"sync"

	"github.com/rpattn/loadflow/internal/logger"
)

// Step mutates one item. Errors are logged and never stop the stage.
type Step[T any] func(ctx context.Context, item *T) error

// Stage groups steps that run in parallel for the same item.
type Stage[T any] struct {
	steps []Step[T]
}

func NewStage[T any](steps ...Step[T]) Stage[T] {
	return Stage[T]{steps: steps}
}

// Run starts every step concurrently and waits for all of them. It returns
// the number of steps that failed.
func (s Stage[T]) Run(ctx context.Context, item *T) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, step := range s.steps {
		wg.Add(1)
		go func(step Step[T]) {
			defer wg.Done()
			if err := step(ctx, item); err != nil {
				logger.FromContext(ctx).Debug("enrichment step failed", "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(step)
	}
	wg.Wait()
	return failed
}
