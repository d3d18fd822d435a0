package harvester

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jdp1ps/svp-harvester-go/internal/errs"
	"github.com/jdp1ps/svp-harvester-go/internal/reconcile"
	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// ConvertWithRetry wraps adapter.Convert with the transient-error retry
// policy: a TransientExternal classification retries the
// whole record with exponential backoff up to maxAttempts; any other
// classification is treated as permanent and returned immediately via
// backoff.Permanent, so the caller can record a HarvestingError and move on
// to the next record without burning the retry budget on errors retrying
// will never fix.
func ConvertWithRetry(ctx context.Context, adapter Adapter, raw Raw, rc *reconcile.Context, maxAttempts uint64, initialInterval time.Duration) (types.Reference, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	// WithMaxRetries counts retries after the first call, so maxAttempts
	// total calls means maxAttempts-1 retries.
	retries := maxAttempts
	if retries > 0 {
		retries--
	}
	bounded := backoff.WithMaxRetries(bo, retries)

	var ref types.Reference
	op := func() error {
		var convErr error
		ref, convErr = adapter.Convert(ctx, raw, rc)
		if convErr == nil {
			return nil
		}
		if errs.KindOf(convErr) != errs.TransientExternal {
			return backoff.Permanent(convErr)
		}
		return convErr
	}

	err := backoff.Retry(op, backoff.WithContext(bounded, ctx))
	return ref, err
}
