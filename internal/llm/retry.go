package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/tarsline/agentrt/pkg/models"
)

// withRetry runs fn up to maxRetries times. tool_use_failed errors attempt
// recovery first (handled by the caller via RecoverToolCall before this is
// invoked a second time is not how this works — recovery happens inside the
// provider's Create/Stream before the error reaches here); everything that
// reaches withRetry retries on a fixed backoff schedule per kind.
func withRetry(ctx context.Context, maxRetries int, fn func() (*models.ModelResponse, error)) (*models.ModelResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindFatal {
			return nil, err
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffFor(kind, attempt)):
		}
	}
	return nil, lastErr
}

// backoffFor computes the delay before the next attempt. tool_use_failed:
// exponential base ~0.5s with jitter; rate-limit: linear ~1s * attempt.
func backoffFor(kind ErrorKind, attempt int) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	switch kind {
	case KindTransientRate:
		return time.Duration(attempt)*time.Second + jitter
	default:
		base := 500 * time.Millisecond
		for i := 1; i < attempt; i++ {
			base *= 2
		}
		return base + jitter
	}
}
