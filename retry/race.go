package retry

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RaceFirstWins launches up to maxParallel attempts via dial, staggered
// by stagger, and returns the first one to succeed; the others are
// cancelled via ctx. If every attempt fails, the first error encountered
// is returned (matching errgroup.Group's first-error-wins semantics,
// used the same way the teacher's HTTP tunnel uses it for its own dual
// concurrent connect).
func RaceFirstWins[T any](ctx context.Context, maxParallel int, stagger time.Duration, dial func(context.Context) (T, error)) (T, error) {
	if maxParallel < 1 {
		maxParallel = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val T
		err error
	}

	results := make(chan result, maxParallel)
	var g errgroup.Group
	gctx := ctx

	for i := 0; i < maxParallel; i++ {
		i := i
		g.Go(func() error {
			if i > 0 {
				select {
				case <-time.After(stagger * time.Duration(i)):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			val, err := dial(gctx)
			if err != nil {
				return err
			}
			select {
			case results <- result{val: val}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case r := <-results:
		cancel()
		<-done
		return r.val, nil
	case err := <-done:
		// a success may have been posted alongside other attempts' errors.
		select {
		case r := <-results:
			return r.val, nil
		default:
		}
		var zero T
		if err == nil {
			err = context.Canceled
		}
		return zero, err
	}
}
