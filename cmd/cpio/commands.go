package cpio

import (
	"github.com/spf13/cobra"

	"github.com/projecteru2/bootkit/cpio"
)

// Actions defines the cpio batch command.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
}

// Commands builds the cpio command set.
func Commands(h Actions) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "cpio FILE COMMAND [COMMAND...]",
			Short: "Run a batch of commands against a cpio archive as one transaction",
			Long: `Each COMMAND is one quoted argument. The archive is rewritten only if every
command succeeds; exists and test end the batch and set the exit status.

` + cpio.Usage,
			Args: cobra.MinimumNArgs(2),
			RunE: h.Run,
		},
	}
}
