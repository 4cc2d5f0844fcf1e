package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
)

// WaitForLogin opens the login page and blocks until the operator has signed
// in, which is recognized by an address or page text marker, or until
// auth.timeout elapses (ErrAuthTimeout).
func WaitForLogin(ctx context.Context, rc *RunContext, view schemas.DocumentView) error {
	cfg := rc.Config.Auth
	logger := rc.Logger.Named("auth")

	if err := view.Navigate(ctx, cfg.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	rc.Operator.Notify(fmt.Sprintf("Log in with the browser window. Waiting up to %s.", cfg.Timeout))
	logger.Info("Waiting for manual login.", zap.String("login_url", cfg.LoginURL), zap.Duration("timeout", cfg.Timeout))

	err := view.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		address, err := view.CurrentAddress(ctx)
		if err != nil {
			return false, nil
		}
		for _, marker := range cfg.ReadyAddressMarkers {
			if marker != "" && strings.Contains(address, marker) {
				return true, nil
			}
		}
		if len(cfg.ReadyTextMarkers) == 0 {
			return false, nil
		}
		var text string
		if err := view.RunScript(ctx, scripts.BodyText, &text); err != nil {
			return false, nil
		}
		for _, marker := range cfg.ReadyTextMarkers {
			if marker != "" && strings.Contains(text, marker) {
				return true, nil
			}
		}
		return false, nil
	}, cfg.Timeout)

	switch {
	case err == nil:
		logger.Info("Login detected.")
		rc.Operator.Notify("Login confirmed.")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, schemas.ErrWaitTimeout):
		return fmt.Errorf("%w after %s", ErrAuthTimeout, cfg.Timeout)
	default:
		return fmt.Errorf("waiting for login: %w", err)
	}
}
