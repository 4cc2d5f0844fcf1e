// File: internal/harvest/runcontext.go
// Package harvest is the receipt pipeline: page discovery, traversal of the
// frozen page list and the per-item issuance/capture state machine. Every
// fault is routed through the bounded retry policy.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/retry"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

var (
	// ErrNoItems means the first list page has nothing to harvest.
	ErrNoItems = errors.New("no receipt items found")
	// ErrAuthTimeout means the operator never finished logging in.
	ErrAuthTimeout = errors.New("login was not completed in time")
	// ErrAborted wraps whatever error was pending when an abort was chosen.
	ErrAborted = errors.New("run aborted")
	// ErrWrongPage means the view did not show the expected list page even
	// after navigating there again.
	ErrWrongPage = errors.New("view is not on the expected list page")
	// ErrItemNotFound means the list page has no entry at the requested position.
	ErrItemNotFound = errors.New("item not found on page")
)

// Operator is everything the pipeline asks of the person running it.
type Operator interface {
	retry.Escalator
	Interactive() bool
	Notify(msg string)
	Confirm(ctx context.Context, question string) (bool, error)
	Ask(ctx context.Context, question string) (string, error)
	AskInt(ctx context.Context, question string) (int, error)
	Acknowledge(ctx context.Context, message string) error
}

// RunContext carries the per-run collaborators. It is built once and handed
// to every component instead of relying on globals.
type RunContext struct {
	ID       uuid.UUID
	Config   *config.Config
	Store    *store.Store
	Logger   *zap.Logger
	Operator Operator
	Started  time.Time

	// Sleep backs every pause of the run: settle delays, back-off and the
	// capture retry pause.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRunContext validates the collaborators and tags the logger with a fresh
// run id.
func NewRunContext(cfg *config.Config, st *store.Store, op Operator, logger *zap.Logger) (*RunContext, error) {
	if cfg == nil || st == nil || op == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize run context with nil dependencies")
	}
	id := uuid.New()
	return &RunContext{
		ID:       id,
		Config:   cfg,
		Store:    st,
		Logger:   logger.With(zap.String("run_id", id.String())),
		Operator: op,
		Started:  time.Now(),
		Sleep:    retry.Sleep,
	}, nil
}

// policy builds a retry policy for the run's settings. onExhausted may be nil.
func (rc *RunContext) policy(logger *zap.Logger, onExhausted func(context.Context, retry.Escalation)) *retry.Policy {
	return &retry.Policy{
		MaxAttempts: rc.Config.Retry.MaxAttempts,
		Backoff:     rc.Config.Retry.Backoff,
		Escalator:   rc.Operator,
		Sleep:       rc.Sleep,
		Logger:      logger,
		OnExhausted: onExhausted,
	}
}
