// Package retry implements the bounded retry policy used for list pages,
// items and navigation recovery. Every exhausted round ends in a decision
// from an Escalator: retry another round, skip, or abort the run.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Decision is what an Escalator chose after a round was exhausted.
type Decision int

const (
	Retry Decision = iota + 1
	Skip
	Abort
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Skip:
		return "skip"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ParseDecision maps "retry", "skip" and "abort" to a Decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "retry":
		return Retry, nil
	case "skip":
		return Skip, nil
	case "abort":
		return Abort, nil
	}
	return 0, fmt.Errorf("unknown decision %q", s)
}

// Scope names what is being retried.
type Scope string

const (
	ScopePage       Scope = "page"
	ScopeItem       Scope = "item"
	ScopeNavigation Scope = "navigation"
)

// Escalation describes an exhausted round.
type Escalation struct {
	Scope Scope
	// Page is the 1 based page ordinal.
	Page int
	// Item is the 1 based position on the page, zero for page scope.
	Item     int
	Attempts int
	Err      error
}

func (e Escalation) String() string {
	if e.Item > 0 {
		return fmt.Sprintf("%s %d on page %d", e.Scope, e.Item, e.Page)
	}
	return fmt.Sprintf("%s %d", e.Scope, e.Page)
}

// Escalator decides what happens after a round of attempts failed.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) (Decision, error)
}

// Fixed always returns the same decision. It stands in for the operator
// when nobody is at the console.
type Fixed Decision

// Escalate implements Escalator.
func (f Fixed) Escalate(context.Context, Escalation) (Decision, error) {
	return Decision(f), nil
}

// Outcome is the terminal result of Policy.Do.
type Outcome int

const (
	// Done means the operation succeeded on some attempt.
	Done Outcome = iota + 1
	// Skipped means the escalator chose to move on.
	Skipped
	// Aborted means the escalator chose to end the run.
	Aborted
	// Exhausted means a round failed with a quiet error and was not escalated.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type quietError struct{ err error }

func (q quietError) Error() string { return q.err.Error() }
func (q quietError) Unwrap() error { return q.err }

// Quiet marks err as retryable without escalation: when a round ends on a
// quiet error Do returns Exhausted instead of asking the escalator.
func Quiet(err error) error {
	if err == nil {
		return nil
	}
	return quietError{err: err}
}

// IsQuiet reports whether err was marked with Quiet.
func IsQuiet(err error) bool {
	var q quietError
	return errors.As(err, &q)
}

// Policy runs operations with a fixed number of attempts per round and a
// fixed pause between attempts.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Escalator   Escalator
	// Sleep waits between attempts. Nil uses a context aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
	// OnExhausted runs once per exhausted round before escalation, e.g. to
	// save a diagnostic snapshot.
	OnExhausted func(ctx context.Context, e Escalation)
}

// Op is one attempt. attempt counts from 1 within a round.
type Op func(ctx context.Context, attempt int) error

// Do runs op until it succeeds or a decision ends it. The returned error is
// the last failure (nil for Done) or a context error.
func (p *Policy) Do(ctx context.Context, e Escalation, op Op) (Outcome, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	logger := p.logger().With(
		zap.String("scope", string(e.Scope)),
		zap.Int("page", e.Page),
		zap.Int("item", e.Item))

	for round := 1; ; round++ {
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return Aborted, err
			}
			err := op(ctx, attempt)
			if err == nil {
				return Done, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Aborted, ctxErr
			}
			lastErr = err
			logger.Warn("Attempt failed.",
				zap.Int("round", round),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err))

			if attempt < maxAttempts && p.Backoff > 0 {
				if err := p.sleep(ctx, p.Backoff); err != nil {
					return Aborted, err
				}
			}
		}

		if IsQuiet(lastErr) {
			logger.Info("Attempts exhausted.", zap.Int("attempts", maxAttempts), zap.Error(lastErr))
			return Exhausted, lastErr
		}

		esc := e
		esc.Attempts = maxAttempts
		esc.Err = lastErr
		if p.OnExhausted != nil {
			p.OnExhausted(ctx, esc)
		}

		decision, err := p.escalate(ctx, esc)
		if err != nil {
			return Aborted, fmt.Errorf("escalation for %s failed: %w", esc, err)
		}
		logger.Info("Escalation decided.", zap.Stringer("decision", decision), zap.Error(lastErr))

		switch decision {
		case Retry:
			continue
		case Skip:
			return Skipped, lastErr
		default:
			return Aborted, lastErr
		}
	}
}

func (p *Policy) escalate(ctx context.Context, e Escalation) (Decision, error) {
	if p.Escalator == nil {
		return Abort, nil
	}
	return p.Escalator.Escalate(ctx, e)
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p *Policy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
