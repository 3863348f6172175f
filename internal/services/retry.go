package services

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
)

const errLoggerKey = "err"

// Completer is a completion backend that Retrying can wrap.
type Completer interface {
	Send(ctx context.Context, p prompt.Prompt) (string, error)
	SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error]
}

// Retrying retries temporary transport failures of the wrapped Completer with exponential backoff.
// A stream is only retried while no fragment has been yielded yet.
type Retrying struct {
	next     Completer
	attempts int
	delay    time.Duration

	logger *slog.Logger
}

// NewRetrying wraps next. attempts counts the first try and is at least one; delay is the wait before the
// second try and doubles afterwards.
func NewRetrying(next Completer, attempts int, delay time.Duration, logger *slog.Logger) Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return Retrying{
		next:     next,
		attempts: attempts,
		delay:    delay,
		logger:   logger.With(slog.String("module", "retry")),
	}
}

// Ready forwards to the wrapped Completer when it reports readiness, and is true otherwise.
func (r Retrying) Ready() bool {
	if rd, ok := r.next.(interface{ Ready() bool }); ok {
		return rd.Ready()
	}
	return true
}

// Send implements Completer.
func (r Retrying) Send(ctx context.Context, p prompt.Prompt) (string, error) {
	for attempt := 0; ; attempt++ {
		reply, err := r.next.Send(ctx, p)
		if err == nil || !r.shouldRetry(ctx, err, attempt) {
			return reply, err
		}
		if werr := r.wait(ctx, attempt, err); werr != nil {
			return "", err
		}
	}
}

// SendStreaming implements Completer.
func (r Retrying) SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		for attempt := 0; ; attempt++ {
			started := false
			var failure error
			for fragment, err := range r.next.SendStreaming(ctx, p) {
				if err != nil {
					failure = err
					break
				}
				started = true
				if !yield(fragment, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if started || !r.shouldRetry(ctx, failure, attempt) {
				yield("", failure)
				return
			}
			if werr := r.wait(ctx, attempt, failure); werr != nil {
				yield("", failure)
				return
			}
		}
	})
}

func (r Retrying) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= r.attempts-1 || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *models.TransportError
	return errors.As(err, &te) && te.Temporary()
}

func (r Retrying) wait(ctx context.Context, attempt int, cause error) error {
	d := r.delay << attempt
	r.logger.Warn("Retrying upstream request",
		slog.Int("attempt", attempt+2),
		slog.Duration("backoff", d),
		slog.String(errLoggerKey, cause.Error()))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
