package ascend

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// waitForLock spins on try until the lock is acquired, with exponential
// backoff capped at three seconds.  A zero LockAcquisitionTimeout waits
// forever; errors from try are permanent.
func (e *Engine) waitForLock(ctx context.Context, what string, try func(context.Context) (bool, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 3 * time.Second
	policy.MaxElapsedTime = e.cfg.LockAcquisitionTimeout

	operation := func() error {
		ok, err := try(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("%s is held by another runner", what)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		e.log.Info("waiting for lock", "lock", what, "retry_in", next.Round(time.Millisecond))
	}
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}
