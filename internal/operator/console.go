// Package operator talks to the person supervising a run over a line based
// console: escalation menus, yes/no questions, free text and "press Enter"
// acknowledgements.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/retry"
)

// ErrNotInteractive is returned by prompts on a console that cannot ask.
var ErrNotInteractive = errors.New("operator console is not interactive")

// Console reads answers from in and writes prompts to out.
type Console struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	unattended  retry.Decision
	logger      *zap.Logger
}

// NewConsole builds a console. When interactive is false every escalation
// resolves to unattended without reading input, confirmations answer no and
// acknowledgements return immediately.
func NewConsole(in io.Reader, out io.Writer, interactive bool, unattended retry.Decision, logger *zap.Logger) *Console {
	if unattended != retry.Skip && unattended != retry.Abort {
		unattended = retry.Skip
	}
	return &Console{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		unattended:  unattended,
		logger:      logger.Named("operator"),
	}
}

// Interactive reports whether prompts are read from the operator.
func (c *Console) Interactive() bool { return c.interactive }

// Notify prints a message without waiting for input.
func (c *Console) Notify(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}

// readLine reads one trimmed line. The read itself cannot be interrupted;
// a canceled ctx is reported once the line arrives.
func (c *Console) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading operator input: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Escalate shows the retry/skip/abort menu. Anything other than 1 or 3
// counts as skip. End of input falls back to the unattended decision.
func (c *Console) Escalate(ctx context.Context, e retry.Escalation) (retry.Decision, error) {
	if !c.interactive {
		c.logger.Info("No operator; applying unattended decision.",
			zap.Stringer("decision", c.unattended), zap.Stringer("escalation", e))
		return c.unattended, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s failed %d times", capitalize(e.String()), e.Attempts)
	if e.Err != nil {
		fmt.Fprintf(c.out, ": %v", e.Err)
	}
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  1: retry")
	fmt.Fprintln(c.out, "  2: skip and continue")
	fmt.Fprintln(c.out, "  3: abort the run")
	fmt.Fprint(c.out, "Choice (1/2/3): ")

	answer, err := c.readLine(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.logger.Warn("Operator input closed; applying unattended decision.", zap.Stringer("decision", c.unattended))
			return c.unattended, nil
		}
		return 0, err
	}
	switch answer {
	case "1":
		return retry.Retry, nil
	case "3":
		return retry.Abort, nil
	default:
		return retry.Skip, nil
	}
}

// Confirm asks a yes/no question. Only "y" and "yes" count as yes.
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	if !c.interactive {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s (y/n): ", question)
	answer, err := c.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Ask reads a free text answer. An empty answer is returned as "".
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	if !c.interactive {
		return "", ErrNotInteractive
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s: ", question)
	return c.readLine(ctx)
}

// AskInt reads a positive integer. An empty answer returns 0.
func (c *Console) AskInt(ctx context.Context, question string) (int, error) {
	answer, err := c.Ask(ctx, question)
	if err != nil || answer == "" {
		return 0, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative number", answer)
	}
	return n, nil
}

// Acknowledge prints message and blocks until the operator presses Enter.
func (c *Console) Acknowledge(ctx context.Context, message string) error {
	if !c.interactive {
		c.logger.Info("No operator to acknowledge; continuing.", zap.String("message", message))
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "%s\nPress Enter to continue...", message)
	_, err := c.readLine(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
