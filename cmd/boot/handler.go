package boot

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/projecteru2/bootkit/bootimg"
	cmdcore "github.com/projecteru2/bootkit/cmd/core"
	"github.com/projecteru2/bootkit/lock"
	"github.com/projecteru2/bootkit/lock/flock"
	"github.com/projecteru2/bootkit/progress"
	bootimgprogress "github.com/projecteru2/bootkit/progress/bootimg"
	"github.com/projecteru2/bootkit/utils"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Unpack(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	noDecompress, _ := cmd.Flags().GetBool("no-decompress")
	dumpHeader, _ := cmd.Flags().GetBool("header")

	img, release, err := bootimg.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer release() //nolint:errcheck

	describe(os.Stderr, img)
	set, status, err := bootimg.Unpack(ctx, img, bootimg.UnpackOptions{
		NoDecompress: noDecompress,
		DumpHeader:   dumpHeader,
	}, tracker(ctx, "cmd.unpack"))
	if err != nil {
		return err
	}
	if err := set.WriteDir(conf.WorkDir); err != nil {
		return err
	}
	return cmdcore.ExitCode(int(status))
}

func (h Handler) Repack(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.repack")
	noCompress, _ := cmd.Flags().GetBool("no-compress")
	useHeader, _ := cmd.Flags().GetBool("header")
	src, out := args[0], bootimg.NewBootFile
	if len(args) > 1 {
		out = args[1]
	}

	set, err := bootimg.ReadComponentSet(conf.WorkDir)
	if err != nil {
		return err
	}
	if !useHeader && src != cmdcore.Stdio {
		set.Info = nil
	}
	opts := bootimg.RepackOptions{NoCompress: noCompress, PatchVbmetaFlag: conf.PatchVbmetaFlag}

	var data []byte
	if src == cmdcore.Stdio {
		data, err = bootimg.Build(ctx, set, opts, tracker(ctx, "cmd.repack"))
	} else {
		img, release, openErr := bootimg.Open(ctx, src)
		if openErr != nil {
			return openErr
		}
		defer release() //nolint:errcheck
		data, err = bootimg.Repack(ctx, img, set, opts, tracker(ctx, "cmd.repack"))
	}
	if err != nil {
		return err
	}

	write := func() error { return utils.AtomicWriteFile(out, data, 0o644) }
	if utils.Exists(out) {
		err = lock.WithLock(ctx, flock.New(out), write)
	} else {
		err = write()
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Infof(ctx, "repacked %s (%s)", out, cmdcore.FormatSize(int64(len(data))))
	return nil
}

func (h Handler) Split(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	noDecompress, _ := cmd.Flags().GetBool("no-decompress")
	data, release, err := utils.MapFile(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer release() //nolint:errcheck

	set, err := bootimg.SplitDTB(ctx, data, noDecompress)
	if err != nil {
		return err
	}
	return set.WriteDir(conf.WorkDir)
}

func (h Handler) Cleanup(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	log.WithFunc("cmd.cleanup").Infof(ctx, "cleaning up %s", conf.WorkDir)
	return bootimg.Cleanup(ctx, conf.WorkDir)
}

func tracker(ctx context.Context, fn string) progress.Tracker {
	logger := log.WithFunc(fn)
	return progress.NewTracker(func(e bootimgprogress.Event) {
		switch e.Phase {
		case bootimgprogress.PhaseComponent:
			logger.Infof(ctx, "%s [%s] %s", e.Component, e.Format, cmdcore.FormatSize(e.Size))
		case bootimgprogress.PhaseDone:
			if e.Size > 0 {
				logger.Infof(ctx, "image size %s", cmdcore.FormatSize(e.Size))
			}
		}
	})
}

// describe prints the header summary unpack shows before dumping files.
func describe(w io.Writer, img *bootimg.Image) {
	h := img.Header
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { _, _ = fmt.Fprintf(tw, "%s\t[%v]\n", k, v) }
	row("DIALECT", h.Dialect)
	row("FLAGS", img.Flags)
	if !h.Dialect.Vendor() {
		row("KERNEL_SZ", cmdcore.FormatSize(int64(h.KernelSize)))
	}
	row("RAMDISK_SZ", cmdcore.FormatSize(int64(h.RamdiskSize)))
	if h.SecondSize > 0 {
		row("SECOND_SZ", cmdcore.FormatSize(int64(h.SecondSize)))
	}
	if h.ExtraSize > 0 {
		row("EXTRA_SZ", cmdcore.FormatSize(int64(h.ExtraSize)))
	}
	if h.RecoveryDtboSize > 0 {
		row("RECOV_DTBO_SZ", cmdcore.FormatSize(int64(h.RecoveryDtboSize)))
	}
	if h.DtbSize > 0 {
		row("DTB_SZ", cmdcore.FormatSize(int64(h.DtbSize)))
	}
	if h.BootconfigSize > 0 {
		row("BOOTCONFIG_SZ", cmdcore.FormatSize(int64(h.BootconfigSize)))
	}
	if version, patch := h.OSVersionString(); version != "" {
		row("OS_VERSION", version)
		row("OS_PATCH_LEVEL", patch)
	}
	row("PAGESIZE", h.PageSize)
	if h.Name != nil {
		row("NAME", h.NameString())
	}
	row("CMDLINE", h.CmdlineString())
	for _, k := range []bootimg.Kind{bootimg.KindKernel, bootimg.KindRamdisk, bootimg.KindExtra} {
		if img.Component(k) != nil {
			row(string(k)+"_fmt", img.Format(k))
		}
	}
	for _, vr := range img.VendorRamdisks() {
		row("VND_RAMDISK", fmt.Sprintf("%s type=%d fmt=%s", vr.FileName(), vr.Type, vr.Format))
	}
	_ = tw.Flush()
}
