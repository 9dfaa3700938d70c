package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/projecteru2/bootkit/config"
	"github.com/projecteru2/bootkit/utils"
)

// Stdio is the file name standing for stdin or stdout.
const Stdio = "-"

// ErrUsage marks operator mistakes that are not data errors.
var ErrUsage = errors.New("usage error")

// ExitError asks main to exit with Code without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode turns a non-zero status into an ExitError.
func ExitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func FormatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}

// OpenInput opens path for reading, or stdin for "-".
func OpenInput(path string) (io.ReadCloser, error) {
	if path == Stdio {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied input
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// WriteOutput streams fill into path through an atomic replace, or into
// stdout for "-".
func WriteOutput(path string, fill func(io.Writer) error) error {
	if path == Stdio {
		return fill(os.Stdout)
	}
	if err := utils.AtomicWriteFunc(path, 0o644, fill); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// StdoutIsTerminal reports whether stdout is attached to a terminal.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}
