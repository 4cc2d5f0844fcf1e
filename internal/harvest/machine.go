// File: internal/harvest/machine.go
package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/capture"
	"github.com/xkilldash9x/receipt-harvester/internal/locate"
)

// ItemState is a step of the per-item lifecycle, used for logging.
type ItemState string

const (
	StateLocated       ItemState = "located"
	StateIssuedAlready ItemState = "issued_already"
	StateNeedsIssuance ItemState = "needs_issuance"
	StateCaptured      ItemState = "captured"
	StateEscalated     ItemState = "escalated"
)

// Machine drives one list entry from its list page to a stored artifact.
type Machine struct {
	rc     *RunContext
	nav    *navigator
	engine *capture.Engine
	logger *zap.Logger

	issued  locate.Chain
	preview locate.Chain
	issue   locate.Chain
	confirm locate.Chain
}

// NewMachine builds the item state machine for a view.
func NewMachine(rc *RunContext, view schemas.DocumentView) *Machine {
	logger := rc.Logger.Named("item")
	cfg := rc.Config
	lookup := cfg.Harvest.LookupTimeout

	engine := capture.NewEngine(view, rc.Store, rc.Operator, cfg.Capture, rc.Logger)
	engine.Sleep = rc.Sleep

	return &Machine{
		rc:      rc,
		nav:     newNavigator(rc, view, logger),
		engine:  engine,
		logger:  logger,
		issued:  locate.FromConfig("issued marker", cfg.Selectors.IssuedMarker, lookup).WithTimeout(cfg.Harvest.ProbeTimeout),
		preview: locate.FromConfig("preview", cfg.Selectors.Preview, lookup),
		issue:   locate.FromConfig("issue", cfg.Selectors.Issue, lookup),
		confirm: locate.FromConfig("confirm", cfg.Selectors.Confirm, lookup),
	}
}

// Process re-navigates to page, resolves the entry at position (1 based),
// issues its receipt when necessary and captures it under globalIndex.
//
// A capture that exhausted every fallback is handed to the operator; once
// they acknowledge, the outcome is ItemUnverified. Every other failure is
// returned so the retry policy can act on it.
func (m *Machine) Process(ctx context.Context, page schemas.PageReference, position, globalIndex int) (schemas.ItemOutcome, error) {
	log := m.logger.With(
		zap.Int("page", page.Ordinal),
		zap.Int("item", position),
		zap.Int("global_index", globalIndex))

	// Handles never survive a navigation, so the page is always reloaded.
	if err := m.nav.goTo(ctx, page); err != nil {
		return schemas.ItemOutcome{}, err
	}
	handles, err := m.nav.enumerate(ctx)
	if err != nil {
		return schemas.ItemOutcome{}, fmt.Errorf("failed to list items on %s: %w", page, err)
	}
	if position < 1 || position > len(handles) {
		return schemas.ItemOutcome{}, fmt.Errorf("%w: position %d of %d on %s", ErrItemNotFound, position, len(handles), page)
	}
	log.Debug("Item state.", zap.String("state", string(StateLocated)), zap.String("text", handles[position-1].Text))

	detail, err := m.nav.follow(ctx, handles[position-1])
	if err != nil {
		return schemas.ItemOutcome{}, fmt.Errorf("failed to open item %d on %s: %w", position, page, err)
	}
	log = log.With(zap.String("detail", detail))

	issuedAlready, err := m.issued.Present(ctx, m.nav.view, log)
	if err != nil {
		return schemas.ItemOutcome{}, fmt.Errorf("failed to probe issuance state: %w", err)
	}

	outcome := schemas.ItemOutcome{}
	if issuedAlready {
		log.Debug("Item state.", zap.String("state", string(StateIssuedAlready)))
	} else {
		log.Info("Item state.", zap.String("state", string(StateNeedsIssuance)))
		if err := m.issueReceipt(ctx, log); err != nil {
			return schemas.ItemOutcome{}, err
		}
		outcome.IssuedHere = true
	}

	art, err := m.engine.Capture(ctx, globalIndex)
	if err == nil {
		log.Info("Item state.", zap.String("state", string(StateCaptured)), zap.String("path", art.Path), zap.String("kind", string(art.Kind)))
		outcome.Status = schemas.ItemCaptured
		outcome.Artifact = &art
		return outcome, nil
	}
	if !errors.Is(err, capture.ErrCaptureFailed) {
		return schemas.ItemOutcome{}, err
	}

	log.Error("Every capture method failed; handing the item to the operator.", zap.Error(err))
	name := capture.DocumentName(m.rc.Config.Capture.FilePrefix, globalIndex, "")
	msg := fmt.Sprintf("Could not save item %d on page %d (#%d). Save it manually into %s (for example as %s).",
		position, page.Ordinal, globalIndex, m.rc.Store.Dir(), name)
	if err := m.rc.Operator.Acknowledge(ctx, msg); err != nil {
		return schemas.ItemOutcome{}, fmt.Errorf("manual completion was not acknowledged: %w", err)
	}
	log.Warn("Item state.", zap.String("state", string(StateEscalated)), zap.String("status", string(schemas.ItemUnverified)))
	outcome.Status = schemas.ItemUnverified
	return outcome, nil
}

// issueReceipt runs preview, issue and confirmation. Each step is best
// effort: a missing or failing control is logged and the flow moves on.
// Only cancellation is returned.
func (m *Machine) issueReceipt(ctx context.Context, log *zap.Logger) error {
	if err := m.clickStep(ctx, m.preview, log); err != nil {
		return err
	}
	if err := m.clickStep(ctx, m.issue, log); err != nil {
		return err
	}

	h, strategy, err := m.confirm.First(ctx, m.nav.view, log)
	switch {
	case err == nil:
		log.Debug("Confirming issuance.", zap.String("strategy", strategy))
		if err := m.nav.view.Click(ctx, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Confirmation click failed.", zap.Error(err))
		}
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		var clicked bool
		if err := m.nav.view.RunScript(ctx, scripts.ConfirmFallback(m.rc.Config.Selectors.ConfirmTexts), &clicked); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Scripted confirmation failed.", zap.Error(err))
		} else if !clicked {
			log.Debug("No confirmation prompt appeared.")
		}
	}
	return m.nav.settle(ctx)
}

func (m *Machine) clickStep(ctx context.Context, chain locate.Chain, log *zap.Logger) error {
	h, _, err := chain.First(ctx, m.nav.view, log)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("Step skipped.", zap.String("step", chain.Name), zap.Error(err))
		return nil
	}
	if err := m.nav.view.Click(ctx, h); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Step failed.", zap.String("step", chain.Name), zap.Error(err))
		return nil
	}
	return m.nav.settle(ctx)
}
