package others

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Actions defines the standalone utilities.
type Actions interface {
	SHA1(cmd *cobra.Command, args []string) error
	HexPatch(cmd *cobra.Command, args []string) error
	Version(cmd *cobra.Command, args []string) error
}

// Commands builds the utility command set (sha1, hexpatch, version, completion).
func Commands(h Actions) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "sha1 FILE",
			Short: "Print the SHA1 digest of FILE",
			Args:  cobra.ExactArgs(1),
			RunE:  h.SHA1,
		},
		{
			Use:   "hexpatch FILE FROM TO",
			Short: "Replace every occurrence of hex pattern FROM with TO in FILE",
			Long:  "Replace every occurrence of hex pattern FROM with TO in FILE. Exits 1 when nothing matched.",
			Args:  cobra.ExactArgs(3),
			RunE:  h.HexPatch,
		},
		{
			Use:   "version",
			Short: "Show version, git revision, and build timestamp",
			RunE:  h.Version,
		},
		{
			Use:       "completion [bash|zsh|fish|powershell]",
			Short:     "Generate shell completion script",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
			RunE: func(cmd *cobra.Command, args []string) error {
				root := cmd.Root()
				switch args[0] {
				case "bash":
					return root.GenBashCompletion(os.Stdout)
				case "zsh":
					return root.GenZshCompletion(os.Stdout)
				case "fish":
					return root.GenFishCompletion(os.Stdout, true)
				case "powershell":
					return root.GenPowerShellCompletionWithDesc(os.Stdout)
				default:
					return fmt.Errorf("unsupported shell: %s", args[0])
				}
			},
		},
	}
}
