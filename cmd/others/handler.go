package others

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/bootkit/cmd/core"
	"github.com/projecteru2/bootkit/utils"
	"github.com/projecteru2/bootkit/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) SHA1(cmd *cobra.Command, args []string) error {
	if _, _, err := h.Init(cmd); err != nil {
		return err
	}
	sum, err := utils.SHA1File(args[0])
	if err != nil {
		return fmt.Errorf("digest %s: %w", args[0], err)
	}
	fmt.Println(sum)
	return nil
}

func (h Handler) HexPatch(cmd *cobra.Command, args []string) error {
	ctx, _, err := h.Init(cmd)
	if err != nil {
		return err
	}
	patched, err := utils.HexPatch(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	if !patched {
		log.WithFunc("cmd.hexpatch").Warnf(ctx, "pattern %s not found in %s", args[1], args[0])
		return cmdcore.ExitCode(1)
	}
	log.WithFunc("cmd.hexpatch").Infof(ctx, "patched %s: %s -> %s", args[0], args[1], args[2])
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
