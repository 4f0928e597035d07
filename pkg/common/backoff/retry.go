package backoff

import (
	"time"
)

// Retriable is a function returning an error which can be retried.
type Retriable func() error

// Retry runs f until it succeeds or the policy is exhausted, returning the
// last error.
func Retry(f Retriable, p RetryPolicy) error {
	var err error
	var backoff time.Duration

	r := NewRetrier(p)
	for {
		if err = f(); err == nil {
			return nil
		}

		if backoff = r.NextBackOff(); backoff == done {
			return err
		}

		time.Sleep(backoff)
	}
}
