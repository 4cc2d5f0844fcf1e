package operator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/internal/retry"
)

func newConsole(t *testing.T, input string, interactive bool) (*Console, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return NewConsole(strings.NewReader(input), out, interactive, retry.Skip, zaptest.NewLogger(t)), out
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()
	esc := retry.Escalation{Scope: retry.ScopeItem, Page: 2, Item: 5, Attempts: 3, Err: errors.New("print button missing")}

	testCases := []struct {
		input string
		want  retry.Decision
	}{
		{"1\n", retry.Retry},
		{"2\n", retry.Skip},
		{"3\n", retry.Abort},
		{"whatever\n", retry.Skip},
		{"", retry.Skip}, // end of input falls back to unattended
	}
	for _, tc := range testCases {
		t.Run(strings.TrimSpace(tc.input), func(t *testing.T) {
			c, out := newConsole(t, tc.input, true)
			got, err := c.Escalate(ctx, esc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, out.String(), "Item 5 on page 2 failed 3 times: print button missing")
			assert.Contains(t, out.String(), "3: abort the run")
		})
	}

	t.Run("unattended", func(t *testing.T) {
		out := &bytes.Buffer{}
		c := NewConsole(strings.NewReader("1\n"), out, false, retry.Abort, zaptest.NewLogger(t))
		got, err := c.Escalate(ctx, esc)
		require.NoError(t, err)
		assert.Equal(t, retry.Abort, got)
		assert.Empty(t, out.String())
	})

	t.Run("canceled", func(t *testing.T) {
		c, _ := newConsole(t, "1\n", true)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Escalate(cctx, esc)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSequentialPrompts(t *testing.T) {
	ctx := context.Background()
	c, out := newConsole(t, "y\nreceipt_custom.pdf\n12\n\nn\n", true)

	ok, err := c.Confirm(ctx, "Saved the PDF?")
	require.NoError(t, err)
	assert.True(t, ok)

	name, err := c.Ask(ctx, "File name")
	require.NoError(t, err)
	assert.Equal(t, "receipt_custom.pdf", name)

	n, err := c.AskInt(ctx, "Total pages")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	require.NoError(t, c.Acknowledge(ctx, "Finish the receipt by hand."))

	ok, err = c.Confirm(ctx, "Again?")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, out.String(), "Saved the PDF? (y/n): ")
	assert.Contains(t, out.String(), "Press Enter to continue...")

	// Input is exhausted now.
	require.NoError(t, c.Acknowledge(ctx, "done"))
}

func TestAskInt(t *testing.T) {
	ctx := context.Background()

	c, _ := newConsole(t, "\n", true)
	n, err := c.AskInt(ctx, "Total pages")
	require.NoError(t, err)
	assert.Zero(t, n)

	c, _ = newConsole(t, "many\n", true)
	_, err = c.AskInt(ctx, "Total pages")
	assert.Error(t, err)
}

func TestNonInteractive(t *testing.T) {
	ctx := context.Background()
	c, out := newConsole(t, "y\n", false)

	assert.False(t, c.Interactive())

	ok, err := c.Confirm(ctx, "Saved?")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Ask(ctx, "Name")
	assert.ErrorIs(t, err, ErrNotInteractive)

	assert.NoError(t, c.Acknowledge(ctx, "manual step"))

	c.Notify("Log in within 5 minutes.")
	assert.Equal(t, "Log in within 5 minutes.\n", out.String())
}
