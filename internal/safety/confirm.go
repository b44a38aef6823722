// File: internal/safety/confirm.go
package safety

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ConfirmationGate is the interactive yes/no decision point the orchestrator
// blocks on before executing a sensitive action or continuing past a
// protected screen. Implementations must honor context cancellation.
type ConfirmationGate interface {
	// Confirm presents the warning to the user and returns their decision.
	Confirm(ctx context.Context, warning string) (bool, error)
}

// StdioGate reads a y/n answer from an input stream. Used by the CLI.
type StdioGate struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prompts and waits for a line of input. A read error or context
// cancellation counts as a decline.
func (g *StdioGate) Confirm(ctx context.Context, warning string) (bool, error) {
	fmt.Fprintf(g.Out, "\n%s\nProceed? [y/N]: ", warning)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil {
			ch <- answer{false, err}
			return
		}
		line = strings.ToLower(strings.TrimSpace(line))
		ch <- answer{line == "y" || line == "yes", nil}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		return a.ok, a.err
	}
}

// AutoDecline is a gate that refuses everything. It is the safe default when
// no interactive channel exists.
type AutoDecline struct{}

func (AutoDecline) Confirm(ctx context.Context, warning string) (bool, error) {
	return false, nil
}
