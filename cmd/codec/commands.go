package codec

import (
	"github.com/spf13/cobra"

	"github.com/projecteru2/bootkit/codec"
)

// Actions defines the standalone compression commands.
type Actions interface {
	Compress(cmd *cobra.Command, args []string) error
	Decompress(cmd *cobra.Command, args []string) error
}

// Commands builds the codec command set.
func Commands(h Actions) []*cobra.Command {
	compress := &cobra.Command{
		Use:   "compress [-f FORMAT] IN [OUT]",
		Short: "Compress IN to OUT, or to IN plus the format suffix replacing IN",
		Long: `Compress IN with FORMAT (gzip by default); compress=FORMAT and compress-FORMAT
are accepted as shorthand. "-" reads stdin or writes stdout.
Without OUT the result is written next to IN with the format suffix and IN
is removed.

Supported formats: ` + codec.SupportedNames(),
		Args: cobra.RangeArgs(1, 2),
		RunE: h.Compress,
	}
	compress.Flags().StringP("format", "f", codec.FormatGzip.String(), "compression format")

	decompress := &cobra.Command{
		Use:   "decompress [-f FORMAT] IN [OUT]",
		Short: "Decompress IN to OUT, detecting the format unless given",
		Long: `Decompress IN; decompress-FORMAT asserts the format. "-" reads stdin
or writes stdout. Without OUT the format suffix is stripped from IN for the
output name and IN is removed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: h.Decompress,
	}
	decompress.Flags().StringP("format", "f", "", "assert the input format")

	return []*cobra.Command{compress, decompress}
}
