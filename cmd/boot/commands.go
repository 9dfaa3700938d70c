package boot

import "github.com/spf13/cobra"

// Actions defines boot image operations.
type Actions interface {
	Unpack(cmd *cobra.Command, args []string) error
	Repack(cmd *cobra.Command, args []string) error
	Split(cmd *cobra.Command, args []string) error
	Cleanup(cmd *cobra.Command, args []string) error
}

// Commands builds the boot image command set.
func Commands(h Actions) []*cobra.Command {
	unpack := &cobra.Command{
		Use:   "unpack [-n] [-h] IMG",
		Short: "Unpack a boot image into component files in the work directory",
		Long: `Unpack IMG into kernel, kernel_dtb, ramdisk.cpio, second, extra,
recovery_dtbo, dtb, bootconfig and vendor_ramdisk/<name>.cpio.
Exits 0 on success, 1 on error, 2 for ChromeOS images that need re-signing.`,
		Args: cobra.ExactArgs(1),
		RunE: h.Unpack,
	}
	unpack.Flags().BoolP("no-decompress", "n", false, "keep components as stored")
	unpack.Flags().BoolP("header", "h", false, "write the header side file")

	repack := &cobra.Command{
		Use:   "repack [-n] ORIG|- [OUT]",
		Short: "Rebuild ORIG from the component files (\"-\" builds from the header file alone)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  h.Repack,
	}
	repack.Flags().BoolP("no-compress", "n", false, "embed component files exactly as found")
	repack.Flags().Bool("header", true, "apply the header side file when present")

	split := &cobra.Command{
		Use:   "split [-n] FILE",
		Short: "Split a kernel with an appended device tree into kernel and kernel_dtb",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Split,
	}
	split.Flags().BoolP("no-decompress", "n", false, "keep the kernel compressed")

	return []*cobra.Command{
		unpack,
		repack,
		split,
		{
			Use:   "cleanup",
			Short: "Remove every component file from the work directory",
			Args:  cobra.NoArgs,
			RunE:  h.Cleanup,
		},
	}
}
