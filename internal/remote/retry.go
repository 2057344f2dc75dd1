package remote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gcodesync/internal/order"

	"github.com/rs/zerolog/log"
)

const maxBackoff = 30 * time.Second

// Retrying wraps a Downloader with bounded attempts and exponential backoff.
// Only connection failures and 5xx responses are retried.
type Retrying struct {
	next     Downloader
	attempts int
	base     time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ Downloader = (*Retrying)(nil)

// NewRetrying returns next unchanged when attempts <= 1.
func NewRetrying(next Downloader, attempts int, base time.Duration) Downloader { //nolint:ireturn
	if attempts <= 1 {
		return next
	}
	if base <= 0 {
		base = time.Second
	}
	return &Retrying{next: next, attempts: attempts, base: base, sleep: sleepContext}
}

func (r *Retrying) Download(ctx context.Context, orderID order.ID, dest string) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			wait := calculateBackoff(attempt-1, r.base)
			log.Debug().Str("order_id", orderID.String()).Int("attempt", attempt+1).Dur("wait", wait).Msg("retrying download")
			if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
				return err
			}
		}
		err = r.next.Download(ctx, orderID, dest)
		if err == nil || !retryable(ctx, err) {
			return err
		}
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	return StatusCode(err) >= http.StatusInternalServerError
}

// calculateBackoff doubles base per prior failure, capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	wait := base
	for i := 0; i < failures; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
