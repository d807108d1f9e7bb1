package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/filmindex/filmsync/pkg/logger"
)

// ErrExhausted is matched by every *ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

// ErrInterrupted is returned by Do when the channel attached with
// WithInterrupt closes during a wait between attempts.
var ErrInterrupted = errors.New("retry interrupted")

// ExhaustedError is returned by Do when the policy runs out of attempts.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type interruptKey struct{}

// WithInterrupt returns a copy of ctx under which Do stops waiting between
// attempts once done is closed. A call already in flight is not cancelled.
func WithInterrupt(ctx context.Context, done <-chan struct{}) context.Context {
	return context.WithValue(ctx, interruptKey{}, done)
}

func interrupted(ctx context.Context) <-chan struct{} {
	done, _ := ctx.Value(interruptKey{}).(<-chan struct{})
	return done
}

// Do calls fn until it succeeds, returns a Permanent error, the policy runs
// out of attempts, or ctx is done. Each retry is logged at warn level with
// op and the number of the attempt that failed.
func Do(ctx context.Context, p Policy, op string, log logger.Logger, fn func(ctx context.Context) error) error {
	if log == nil {
		log = logger.Nop()
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		delay, ok := p.Delay(attempt)
		if !ok {
			log.Error("giving up", "op", op, "attempts", attempt, "error", err.Error())
			return &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		log.Warn("retrying", "op", op, "attempt", attempt, "delay", delay.String(), "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-interrupted(ctx):
			timer.Stop()
			log.Warn("retry interrupted", "op", op, "attempt", attempt)
			return fmt.Errorf("%s: %w: %w", op, ErrInterrupted, err)
		case <-timer.C:
		}
	}
}
