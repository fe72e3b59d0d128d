package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// errNoTokens guards Dispatch; the pipeline reports ErrNoRecipients before
// ever getting here.
var (
	errNoTokens  = errors.New("dispatch called with no tokens")
	errNoOutcome = errors.New("sender returned no outcome")
)

// Dispatcher sends one composed message to a resolved token set.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over sender.
func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger}
}

// Dispatch performs exactly one bulk send and returns the transport's
// outcome unmodified. It never retries: a send is not idempotent.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	if len(tokens) == 0 {
		return nil, errNoTokens
	}

	start := time.Now()
	out, err := d.sender.SendBulk(ctx, msg, tokens)
	recordDispatch(out, time.Since(start).Seconds())
	if err != nil {
		d.logger.Warn("bulk send failed", "tokens", len(tokens), "error", err)
		return out, err
	}
	if out == nil {
		return nil, errNoOutcome
	}
	if out.FailureCount > 0 {
		d.logger.Info("bulk send partially failed",
			"sent", out.SuccessCount, "failed", out.FailureCount)
	}
	return out, nil
}
