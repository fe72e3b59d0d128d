package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the transport circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// BreakerSender trips after consecutive call-level failures and fails fast
// while open. Per-token failures inside a successful call do not count.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[*DispatchOutcome]
}

// NewBreakerSender wraps next in a circuit breaker.
func NewBreakerSender(next Sender, cfg BreakerConfig, logger *slog.Logger) *BreakerSender {
	if cfg.Name == "" {
		cfg.Name = "fcm"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Transport circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return &BreakerSender{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*DispatchOutcome](settings),
	}
}

// SendBulk forwards to the wrapped sender unless the circuit is open.
func (s *BreakerSender) SendBulk(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	out, err := s.cb.Execute(func() (*DispatchOutcome, error) {
		return s.next.SendBulk(ctx, msg, tokens)
	})
	if err != nil {
		return out, fmt.Errorf("breaker %s: %w", s.cb.Name(), err)
	}
	return out, nil
}

// State reports the breaker state ("closed", "open", "half-open").
func (s *BreakerSender) State() string {
	return s.cb.State().String()
}
