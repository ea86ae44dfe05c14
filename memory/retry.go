package memory

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxCollaboratorRetries bounds retries of embedding and summarization calls.
const maxCollaboratorRetries = 5

// NewBackOff returns the retry policy shared by collaborator adapters:
// exponential with jitter, at most five retries, stopped by ctx.
func NewBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 5 * time.Minute
	eb.RandomizationFactor = 0.2
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, maxCollaboratorRetries), ctx)
}

// Retry runs op under NewBackOff.
func Retry(ctx context.Context, op func() error) error {
	return backoff.Retry(op, NewBackOff(ctx))
}

// ClassifyHTTPError marks client errors other than 429 as permanent so
// Retry gives up on them immediately.
func ClassifyHTTPError(status int, err error) error {
	if err == nil {
		return nil
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
