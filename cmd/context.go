package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootkit/cmd/core"
)

// newCommandContext cancels on SIGINT/SIGTERM so a pending atomic write is
// abandoned instead of half-committed.
func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func commandContext(cmd *cobra.Command) context.Context {
	return cmdcore.CommandContext(cmd)
}
