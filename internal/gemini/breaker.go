package gemini

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls when calls to the model stop being attempted.
type BreakerConfig struct {
	MaxFailures int           // Consecutive failures that open the circuit
	OpenTimeout time.Duration // Time the circuit stays open before a trial call
}

// breakerClient fails fast while the model keeps failing, so commands fall
// back to static texts without waiting on a broken API.
type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker.
func WithBreaker(next Client, cfg BreakerConfig, log *slog.Logger) Client {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		// Cancellations come from the caller, not from the model.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &breakerClient{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerClient) Generate(ctx context.Context, kind PromptKind) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, kind)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
