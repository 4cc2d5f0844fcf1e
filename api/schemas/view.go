// File: api/schemas/view.go
package schemas

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrWaitTimeout is returned by DocumentView.WaitUntil when the condition
// never held inside the allotted time.
var ErrWaitTimeout = errors.New("condition not met before timeout")

// SelectorKind tells the view how to interpret Selector.Query.
type SelectorKind string

const (
	ByCSS   SelectorKind = "css"
	ByXPath SelectorKind = "xpath"
)

// Selector describes a set of elements in the currently loaded document.
// Text filters are applied to the trimmed text content (or value attribute
// for inputs) of every element the query matches.
type Selector struct {
	By    SelectorKind `json:"by" mapstructure:"by" yaml:"by"`
	Query string       `json:"query" mapstructure:"query" yaml:"query"`
	// Text requires an exact match.
	Text string `json:"text,omitempty" mapstructure:"text" yaml:"text,omitempty"`
	// Contains requires a substring match.
	Contains string `json:"contains,omitempty" mapstructure:"contains" yaml:"contains,omitempty"`
	// Exclude drops elements whose text contains it.
	Exclude string `json:"exclude,omitempty" mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// Accepts applies the text filters of the selector to a candidate element's
// text. Views that evaluate the query natively use it to post-filter matches.
func (s Selector) Accepts(text string) bool {
	text = strings.TrimSpace(text)
	if s.Text != "" && text != s.Text {
		return false
	}
	if s.Contains != "" && !strings.Contains(text, s.Contains) {
		return false
	}
	if s.Exclude != "" && strings.Contains(text, s.Exclude) {
		return false
	}
	return true
}

func (s Selector) String() string {
	var b strings.Builder
	b.WriteString(string(s.By))
	b.WriteString(":")
	b.WriteString(s.Query)
	if s.Text != "" {
		b.WriteString(" text=" + s.Text)
	}
	if s.Contains != "" {
		b.WriteString(" contains=" + s.Contains)
	}
	if s.Exclude != "" {
		b.WriteString(" exclude=" + s.Exclude)
	}
	return b.String()
}

// ElementHandle is a positional reference to an element found by FindAll.
// It is only meaningful for the document it was resolved against; any
// navigation invalidates it.
type ElementHandle struct {
	Selector Selector `json:"selector"`
	// Index is the zero based position among the filtered matches.
	Index   int    `json:"index"`
	Tag     string `json:"tag,omitempty"`
	Text    string `json:"text,omitempty"`
	Href    string `json:"href,omitempty"`
	Value   string `json:"value,omitempty"`
	Visible bool   `json:"visible"`
}

// RenderOptions controls print-to-document rendering. Sizes are in inches.
type RenderOptions struct {
	PaperWidth          float64
	PaperHeight         float64
	Scale               float64
	Margin              float64
	PrintBackground     bool
	DisplayHeaderFooter bool
}

// A4RenderOptions returns the layout used for receipts: A4 portrait, no
// header or footer, background graphics and zero margins at 90% scale.
func A4RenderOptions() RenderOptions {
	return RenderOptions{
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		Scale:           0.9,
		Margin:          0,
		PrintBackground: true,
	}
}

// Condition is polled by WaitUntil.
type Condition func(ctx context.Context) (bool, error)

// DocumentView is the single live document the harvester drives. All calls
// act on whatever document is currently loaded.
type DocumentView interface {
	Navigate(ctx context.Context, address string) error
	CurrentAddress(ctx context.Context) (string, error)
	FindAll(ctx context.Context, sel Selector) ([]ElementHandle, error)
	Click(ctx context.Context, h ElementHandle) error
	// RunScript evaluates code in the page and decodes the result into res
	// (which may be nil).
	RunScript(ctx context.Context, code string, res interface{}) error
	RenderToDocument(ctx context.Context, opts RenderOptions) ([]byte, error)
	RenderToImage(ctx context.Context) ([]byte, error)
	WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) error
}
