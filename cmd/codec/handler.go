package codec

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootkit/cmd/core"
	"github.com/projecteru2/bootkit/codec"
	"github.com/projecteru2/bootkit/utils"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Compress(cmd *cobra.Command, args []string) error {
	ctx, _, err := h.Init(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("format")
	f, err := codec.ParseFormat(name)
	if err != nil {
		return err
	}
	if !f.Compressed() {
		return fmt.Errorf("%w: %s", codec.ErrUnsupportedName, name)
	}
	in := args[0]
	out, replace := outputName(args, func() string { return in + f.Ext() })
	if in == cmdcore.Stdio && len(args) == 1 {
		out, replace = cmdcore.Stdio, false
	}
	if out == cmdcore.Stdio && cmdcore.StdoutIsTerminal() {
		return fmt.Errorf("%w: refusing to write compressed data to a terminal", cmdcore.ErrUsage)
	}
	return transcode(ctx, "cmd.compress", in, out, replace, func(r io.Reader, w io.Writer) error {
		return codec.Compress(f, r, w)
	})
}

func (h Handler) Decompress(cmd *cobra.Command, args []string) error {
	ctx, _, err := h.Init(cmd)
	if err != nil {
		return err
	}
	f := codec.FormatNone
	if name, _ := cmd.Flags().GetString("format"); name != "" {
		if f, err = codec.ParseFormat(name); err != nil {
			return err
		}
	}
	in := args[0]
	if in == cmdcore.Stdio && len(args) == 1 {
		args = append(args, cmdcore.Stdio)
	}
	out, replace := outputName(args, func() string {
		ext := codec.FromExt(in).Ext()
		return strings.TrimSuffix(in, ext)
	})
	if replace && out == in {
		return fmt.Errorf("%w: %s has no compressed suffix, give OUT explicitly", cmdcore.ErrUsage, in)
	}
	return transcode(ctx, "cmd.decompress", in, out, replace, func(r io.Reader, w io.Writer) error {
		return codec.Decompress(f, r, w)
	})
}

// outputName returns the explicit output or derive(), and whether the
// input is to be removed afterwards.
func outputName(args []string, derive func() string) (string, bool) {
	if len(args) > 1 {
		return args[1], false
	}
	return derive(), true
}

func transcode(ctx context.Context, fn, in, out string, replace bool, run func(io.Reader, io.Writer) error) error {
	logger := log.WithFunc(fn)
	r, err := cmdcore.OpenInput(in)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	if err := cmdcore.WriteOutput(out, func(w io.Writer) error { return run(r, w) }); err != nil {
		return err
	}
	if out != cmdcore.Stdio {
		logger.Infof(ctx, "%s -> %s", in, out)
	}
	if replace && in != cmdcore.Stdio {
		if errs := utils.RemoveFiles(ctx, in); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}
