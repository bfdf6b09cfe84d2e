// Package remote probes a hedgebench endpoint before a benchmark run.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// ErrNotReady is returned when the endpoint never reported ready.
var ErrNotReady = errors.New("remote: endpoint not ready")

// Prober polls a readiness URL with exponential backoff.
type Prober struct {
	Client *http.Client
	Logger zerolog.Logger

	// InitialInterval is the first pause between probes. Default: 100ms.
	InitialInterval time.Duration
	// MaxInterval caps the pause between probes. Default: 2s.
	MaxInterval time.Duration
}

// WaitReady polls url until it answers 200 or timeout elapses. A 4xx answer
// other than 429 stops polling at once since the URL will not turn ready.
func (p Prober) WaitReady(ctx context.Context, url string, timeout time.Duration) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = 2 * time.Second
	}

	probes := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		probes++
		return struct{}{}, probe(ctx, client, url)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.Logger.Debug().Err(err).Dur("next", next).Str("url", url).Msg("endpoint not ready")
		}),
	)
	if err != nil {
		return fmt.Errorf("%w after %d probes: %w", ErrNotReady, probes, err)
	}

	p.Logger.Info().Str("url", url).Int("probes", probes).Msg("endpoint ready")
	return nil
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("readiness probe: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("readiness probe: status %d", resp.StatusCode)
	}
}
