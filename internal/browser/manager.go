// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/browser/session"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

// Flag is one command line switch handed to the browser process.
type Flag struct {
	Name  string
	Value interface{}
}

// Manager owns the browser process. A run uses exactly one session.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions []*session.Session
}

// NewManager prepares the exec allocator. The browser process itself starts
// with the first session.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	m := &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	return m
}

// NewSession opens the tab the harvester drives and checks that the browser
// responds.
func (m *Manager) NewSession(ctx context.Context) (*session.Session, error) {
	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))

	s, err := session.New(m.allocCtx, m.cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("browser failed to start: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Navigate(probeCtx, "about:blank"); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("browser failed to respond: %w", err)
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()

	m.logger.Info("Browser launched and responsive.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes any open sessions and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("Shutting down browser process.")
	m.allocCancel()
	select {
	case <-m.allocCtx.Done():
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded before the browser exited.", zap.Error(ctx.Err()))
	}
	return firstErr
}

// AllocatorFlags lists the switches the browser is launched with, on top of
// chromedp's defaults. Later flags override earlier ones of the same name and
// a false boolean removes the switch.
func AllocatorFlags(cfg config.BrowserConfig) []Flag {
	flags := []Flag{
		{"enable-automation", false},
		{"headless", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		// Hides navigator.webdriver from the site.
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags = append(flags, Flag{"window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)})
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags = append(flags, Flag{name, parts[1]})
		} else {
			flags = append(flags, Flag{name, true})
		}
	}

	if runtime.GOOS == "linux" {
		flags = append(flags,
			Flag{"no-sandbox", true},
			Flag{"disable-dev-shm-usage", true},
		)
	}
	return flags
}

// AllocatorOptions converts AllocatorFlags into chromedp options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range AllocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}
