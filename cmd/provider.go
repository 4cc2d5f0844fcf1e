// File: cmd/provider.go
package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

// viewProvider opens the document view a command drives. Tests inject a
// scripted site in place of the browser.
type viewProvider interface {
	// Open returns the view and a cleanup function that releases it.
	Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.DocumentView, func(), error)
}

// browserProvider launches a local Chrome through chromedp.
type browserProvider struct{}

func (browserProvider) Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.DocumentView, func(), error) {
	manager := browser.NewManager(ctx, logger, cfg.Browser)
	sess, err := manager.NewSession(ctx)
	if err != nil {
		shutdown(manager, logger)
		return nil, nil, err
	}
	return sess, func() { shutdown(manager, logger) }, nil
}

func shutdown(manager *browser.Manager, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("Error during browser shutdown", zap.Error(err))
	}
}
