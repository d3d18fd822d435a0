package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/jdp1ps/svp-harvester-go/internal/harvester"
)

type secondarySemaphoreKey struct{}

func withSecondarySemaphore(ctx context.Context, sem *semaphore.Weighted) context.Context {
	return context.WithValue(ctx, secondarySemaphoreKey{}, sem)
}

// CallSecondary invokes sf.FetchSecondary bounded by the orchestrator's
// MAX_SUDOC_PARALLELISM semaphore: it acquires one slot before
// calling FetchSecondary and releases it once the returned channel is
// drained, so the adapter never needs its own throttling logic. If ctx
// carries no bound (e.g. a test calling the adapter directly), the call
// proceeds unbounded.
func CallSecondary(ctx context.Context, sf harvester.SecondaryFetcher, ids []string) (<-chan harvester.Raw, error) {
	sem, _ := ctx.Value(secondarySemaphoreKey{}).(*semaphore.Weighted)
	if sem == nil {
		return sf.FetchSecondary(ctx, ids)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	rawCh, err := sf.FetchSecondary(ctx, ids)
	if err != nil {
		sem.Release(1)
		return nil, err
	}

	out := make(chan harvester.Raw)
	go func() {
		defer close(out)
		defer sem.Release(1)
		for raw := range rawCh {
			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
