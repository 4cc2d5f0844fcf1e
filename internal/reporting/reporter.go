// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/harvest"
)

// Reporter defines the interface for writing a run summary to an output.
type Reporter interface {
	// Write renders the result of one run.
	Write(result harvest.Result) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// Formats are "text", "markdown" and "json"; an empty path or "stdout"
// writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case "text", "markdown", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return newReporter(format, writer), nil
}

// NewWriter returns a reporter of the given format over w. Close does not
// close w.
func NewWriter(w io.Writer, format string) (Reporter, error) {
	switch format {
	case "text", "markdown", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return newReporter(format, &nopWriteCloser{w}), nil
}

func newReporter(format string, w io.WriteCloser) Reporter {
	if format == "json" {
		return &jsonReporter{w: w}
	}
	return &tableReporter{w: w, markdown: format == "markdown"}
}

type tableReporter struct {
	w        io.WriteCloser
	markdown bool
}

func (r *tableReporter) render(t table.Writer) {
	if r.markdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func (r *tableReporter) Write(res harvest.Result) error {
	summary := table.NewWriter()
	summary.SetOutputMirror(r.w)
	summary.SetTitle("Receipt harvest")
	summary.AppendRows([]table.Row{
		{"Run", res.RunID},
		{"Output directory", res.Dir},
		{"List address", res.ListURL},
		{"Pages discovered", len(res.Pages)},
		{"Pages completed", res.Progress.PagesCompleted},
		{"Items expected", res.ExpectedItems},
		{"Items attempted", res.Progress.Attempted},
		{"Items saved", res.Progress.Succeeded},
		{"Success rate", successRate(res.Progress)},
		{"Completed by operator", res.Progress.Unverified},
		{"Items skipped", res.Progress.Skipped},
		{"Duration", duration(res).Round(time.Second).String()},
	})
	r.render(summary)

	if len(res.Artifacts) == 0 {
		return nil
	}
	files := table.NewWriter()
	files.SetOutputMirror(r.w)
	files.AppendHeader(table.Row{"#", "Kind", "Reference", "File"})
	for _, a := range res.Artifacts {
		files.AppendRow(table.Row{a.GlobalIndex, a.Kind, a.Reference, filepath.Base(a.Path)})
	}
	r.render(files)
	return nil
}

func (r *tableReporter) Close() error {
	return r.w.Close()
}

type jsonReporter struct {
	w io.WriteCloser
}

type jsonReport struct {
	harvest.Result
	PagesDiscovered int     `json:"pages_discovered"`
	SuccessRate     float64 `json:"success_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (r *jsonReporter) Write(res harvest.Result) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{
		Result:          res,
		PagesDiscovered: len(res.Pages),
		SuccessRate:     res.Progress.SuccessRate(),
		DurationSeconds: duration(res).Seconds(),
	}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error {
	return r.w.Close()
}

// WritePages prints the discovered page list as a table.
func WritePages(w io.Writer, pages []schemas.PageReference) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Page", "Address"})
	for _, p := range pages {
		t.AppendRow(table.Row{p.Ordinal, p.Address})
	}
	t.AppendFooter(table.Row{"Total", len(pages)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// successRate reads like "75.0% (3/4)".
func successRate(p schemas.RunProgress) string {
	if p.Attempted == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%% (%d/%d)", p.SuccessRate(), p.Succeeded, p.Attempted)
}

func duration(res harvest.Result) time.Duration {
	if res.Started.IsZero() || res.Finished.Before(res.Started) {
		return 0
	}
	return res.Finished.Sub(res.Started)
}

// ReadSummary decodes a summary written by the json reporter.
func ReadSummary(r io.Reader) (harvest.Result, error) {
	var rep jsonReport
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(&rep); err != nil {
		return harvest.Result{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	if rep.RunID == "" {
		return harvest.Result{}, fmt.Errorf("summary has no run id")
	}
	return rep.Result, nil
}
