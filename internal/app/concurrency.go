package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Parallel executes multiple functions concurrently and returns on first error.
// All goroutines are canceled when any function returns an error.
//
// Each function receives a context derived from ctx, so a request context
// registered on ctx's flow is visible from every branch.
//
// Example:
//
//	reports, err := Parallel(ctx,
//	    func(ctx context.Context) (Report, error) { return check(ctx, "a") },
//	    func(ctx context.Context) (Report, error) { return check(ctx, "b") },
//	)
func Parallel[T any](ctx context.Context, fns ...func(context.Context) (T, error)) ([]T, error) {
	return ParallelLimit(ctx, -1, fns...)
}

// ParallelLimit executes functions with bounded concurrency.
// At most 'limit' goroutines run simultaneously; a negative limit means no
// bound.
//
// Example:
//
//	results, err := ParallelLimit(ctx, 5, fetchFuncs...)
func ParallelLimit[T any](
	ctx context.Context,
	limit int,
	fns ...func(context.Context) (T, error),
) ([]T, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]T, len(fns))

	for i, fn := range fns {
		g.Go(func() error {
			result, err := fn(ctx)
			if err != nil {
				return err
			}

			results[i] = result

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, fmt.Errorf("parallel execution failed: %w", err)
	}

	return results, nil
}
