package cpio

import (
	"os"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootkit/cmd/core"
	"github.com/projecteru2/bootkit/ramdisk"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Run(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	payload, err := conf.LoadInitBinary()
	if err != nil {
		return err
	}
	res, err := ramdisk.Run(ctx, args[0], args[1:], ramdisk.Options{
		KeepVerity:       conf.KeepVerity,
		KeepForceEncrypt: conf.KeepForceEncrypt,
		InitBinary:       payload,
		Compress:         true,
	}, os.Stdout)
	if err != nil {
		return err
	}
	log.WithFunc("cmd.cpio").Debugf(ctx, "batch on %s: code %d, committed %v", args[0], res.Code, res.Committed)
	return cmdcore.ExitCode(res.Code)
}
