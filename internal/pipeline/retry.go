package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/halapix/imgpipe/internal/fault"
)

// withRetry runs fn up to the configured attempt count with doubling
// backoff between attempts. Only collaborator I/O failures are worth
// retrying; decode and transform failures return immediately because
// the same bytes will fail the same way again.
func (p *Processor) withRetry(ctx context.Context, logger zerolog.Logger, op string, fn func() error) error {
	backoff := p.cfg.RetryBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		kind, ok := fault.KindOf(err)
		if !ok || !kind.Retryable() {
			return err
		}
		if attempt == p.cfg.RetryAttempts {
			break
		}

		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
