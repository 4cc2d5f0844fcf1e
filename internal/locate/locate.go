// Package locate resolves page affordances through an ordered list of named
// lookup strategies. The first strategy that yields at least one element
// wins; the rest are not consulted.
package locate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

// ErrNotFound is returned when no strategy of a chain matched.
var ErrNotFound = errors.New("no lookup strategy matched")

// Strategy is one way of finding an affordance.
type Strategy struct {
	Name     string
	Selector schemas.Selector
	// Timeout bounds the wait for this strategy. Zero means the chain default.
	Timeout time.Duration
}

// Chain is an ordered list of strategies for one affordance.
type Chain struct {
	Name           string
	Strategies     []Strategy
	DefaultTimeout time.Duration
}

// FromConfig builds a chain from configured strategies.
func FromConfig(name string, entries []config.StrategyConfig, defaultTimeout time.Duration) Chain {
	c := Chain{Name: name, DefaultTimeout: defaultTimeout}
	for i, e := range entries {
		label := e.Name
		if label == "" {
			label = fmt.Sprintf("%s-%d", name, i+1)
		}
		c.Strategies = append(c.Strategies, Strategy{Name: label, Selector: e.Selector, Timeout: e.Timeout})
	}
	return c
}

// WithTimeout returns a copy of the chain in which every strategy waits at
// most d.
func (c Chain) WithTimeout(d time.Duration) Chain {
	out := Chain{Name: c.Name, DefaultTimeout: d, Strategies: make([]Strategy, len(c.Strategies))}
	for i, s := range c.Strategies {
		s.Timeout = d
		out.Strategies[i] = s
	}
	return out
}

// Match is a successful lookup.
type Match struct {
	Strategy string
	Handles  []schemas.ElementHandle
}

// All waits for the first strategy that finds elements and returns them.
func (c Chain) All(ctx context.Context, view schemas.DocumentView, logger *zap.Logger) (Match, error) {
	tried := make([]string, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = c.DefaultTimeout
		}

		var handles []schemas.ElementHandle
		err := view.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
			found, err := view.FindAll(ctx, s.Selector)
			if err != nil {
				return false, err
			}
			handles = found
			return len(found) > 0, nil
		}, timeout)
		if err == nil {
			logger.Debug("Lookup matched.",
				zap.String("affordance", c.Name),
				zap.String("strategy", s.Name),
				zap.Int("count", len(handles)))
			return Match{Strategy: s.Name, Handles: handles}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Match{}, ctxErr
		}
		logger.Debug("Lookup strategy missed.",
			zap.String("affordance", c.Name),
			zap.String("strategy", s.Name),
			zap.Error(err))
		tried = append(tried, s.Name)
	}
	return Match{}, fmt.Errorf("%w: %s (tried %s)", ErrNotFound, c.Name, strings.Join(tried, ", "))
}

// First returns the first element found by the chain.
func (c Chain) First(ctx context.Context, view schemas.DocumentView, logger *zap.Logger) (schemas.ElementHandle, string, error) {
	m, err := c.All(ctx, view, logger)
	if err != nil {
		return schemas.ElementHandle{}, "", err
	}
	return m.Handles[0], m.Strategy, nil
}

// Present reports whether any strategy finds the affordance. A miss is not
// an error.
func (c Chain) Present(ctx context.Context, view schemas.DocumentView, logger *zap.Logger) (bool, error) {
	_, err := c.All(ctx, view, logger)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
