package gmail

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"unsubscan/internal/model"
)

// FetchAllHeaders resolves one record per requested id, in the order requested.
//
// Each attempt runs a FetchHeaders round over the ids still outstanding.
// Any non-retryable failure aborts with a *FatalBatchError listing all of them.
// Retryable failures (status 0, 429, rate-limit 403) are re-submitted after
// waiting BackoffBase*2^(n-1) plus jitter following attempt n. Ids still
// unresolved once MaxAttempts is spent yield a *RateLimitedError.
func (c *Client) FetchAllHeaders(ctx context.Context, ids []string) (out []model.MessageHeaderRecord, err error) {
	ctx, span := c.tracer.Start(ctx, "gmail.FetchAllHeaders")
	attempts := 0
	defer func() {
		span.SetAttributes(
			attribute.Int("gmail.requested", len(ids)),
			attribute.Int("gmail.attempts", attempts),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	resolved := make(map[string]model.MessageHeaderRecord, len(ids))
	pending := dedupe(ids)

	for attempts = 1; len(pending) > 0; attempts++ {
		if attempts > 1 {
			wait := c.backoff(attempts - 1)
			c.log.Warn().
				Int("attempt", attempts).
				Int("pending", len(pending)).
				Dur("wait", wait).
				Msg("retrying rate-limited messages")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		records, failures, err := c.FetchHeaders(ctx, pending)
		if err != nil {
			return nil, err
		}
		for id, r := range records {
			resolved[id] = r
		}

		retry, fatal := splitFailures(failures)
		if len(fatal) > 0 {
			c.log.Error().Int("attempt", attempts).Int("fatal", len(fatal)).Msg("non-retryable message failures")
			return nil, &FatalBatchError{Failures: fatal}
		}
		if len(retry) > 0 && attempts >= c.opts.MaxAttempts {
			return nil, &RateLimitedError{Unresolved: retry, Attempts: attempts}
		}
		pending = retry
	}

	out = make([]model.MessageHeaderRecord, 0, len(ids))
	for _, id := range ids {
		r, ok := resolved[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRecord, id)
		}
		out = append(out, r)
	}
	return out, nil
}

// backoff is the wait after attempt n (n >= 1).
func (c *Client) backoff(n int) time.Duration {
	d := c.opts.BackoffBase
	for i := 1; i < n && d < maxBackoff; i++ {
		d = min(d*2, maxBackoff)
	}
	return d + c.jitter(c.opts.MaxJitter)
}
