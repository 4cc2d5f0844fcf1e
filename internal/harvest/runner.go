package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
)

// Result is what a run reports at its end, including after an abort.
type Result struct {
	RunID   string                  `json:"run_id"`
	Dir     string                  `json:"dir"`
	ListURL string                  `json:"list_url"`
	Pages   []schemas.PageReference `json:"pages"`
	// ExpectedItems is the receipt total known after discovery.
	ExpectedItems int                       `json:"expected_items"`
	Progress      schemas.RunProgress       `json:"progress"`
	Artifacts     []schemas.CaptureArtifact `json:"artifacts"`
	Started       time.Time                 `json:"started"`
	Finished      time.Time                 `json:"finished"`
}

// Runner ties login, discovery and traversal together for one session.
type Runner struct {
	rc         *RunContext
	view       schemas.DocumentView
	controller *Controller
	logger     *zap.Logger
}

// NewRunner builds a runner over a view owned by the caller.
func NewRunner(rc *RunContext, view schemas.DocumentView) *Runner {
	return &Runner{
		rc:         rc,
		view:       view,
		controller: NewController(rc, view),
		logger:     rc.Logger.Named("runner"),
	}
}

// ListAddress returns the first list page address. When configured to, it
// lets the operator choose between the default page and a custom address.
func (r *Runner) ListAddress(ctx context.Context) (string, error) {
	cfg := r.rc.Config.Harvest
	if !cfg.PromptListURL || !r.rc.Operator.Interactive() {
		return cfg.ListURL, nil
	}

	r.rc.Operator.Notify(fmt.Sprintf("Receipt list address:\n  1: %s\n  2: enter another address", cfg.ListURL))
	choice, err := r.rc.Operator.Ask(ctx, "Choice (1/2)")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(choice) != "2" {
		return cfg.ListURL, nil
	}
	custom, err := r.rc.Operator.Ask(ctx, "List address")
	if err != nil {
		return "", err
	}
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return cfg.ListURL, nil
	}
	return custom, nil
}

// prepare performs the login wait when enabled and settles on a list
// address. An empty listURL falls back to ListAddress.
func (r *Runner) prepare(ctx context.Context, listURL string) (string, error) {
	if r.rc.Config.Auth.Manual {
		if err := WaitForLogin(ctx, r.rc, r.view); err != nil {
			return "", err
		}
	}
	if listURL != "" {
		return listURL, nil
	}
	return r.ListAddress(ctx)
}

// Discover logs in and returns the page list without processing any item.
func (r *Runner) Discover(ctx context.Context, listURL string) ([]schemas.PageReference, error) {
	first, err := r.prepare(ctx, listURL)
	if err != nil {
		return nil, err
	}
	return r.controller.DiscoverPages(ctx, first)
}

// Run performs a full harvest. The result is populated as far as the run
// got, also when an error is returned.
func (r *Runner) Run(ctx context.Context, listURL string) (Result, error) {
	res := Result{RunID: r.rc.ID.String(), Dir: r.rc.Store.Dir(), Started: r.rc.Started}

	first, err := r.prepare(ctx, listURL)
	if err != nil {
		res.Finished = time.Now()
		return res, err
	}
	res.ListURL = first
	r.logger.Info("Starting harvest.", zap.String("list_url", first), zap.String("output_dir", res.Dir))

	pages, err := r.controller.DiscoverPages(ctx, first)
	res.Pages = pages
	res.ExpectedItems = r.controller.ExpectedItems()
	if err != nil {
		res.Finished = time.Now()
		return res, err
	}

	res.Progress, err = r.controller.RunAll(ctx, pages)
	res.Artifacts = r.controller.Artifacts()
	res.Finished = time.Now()
	r.logger.Info("Harvest finished.",
		zap.Int("attempted", res.Progress.Attempted),
		zap.Int("succeeded", res.Progress.Succeeded),
		zap.Int("unverified", res.Progress.Unverified),
		zap.Int("skipped", res.Progress.Skipped),
		zap.Int("pages_completed", res.Progress.PagesCompleted),
		zap.Float64("success_rate", res.Progress.SuccessRate()),
		zap.Error(err))
	return res, err
}
