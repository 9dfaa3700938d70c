package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdboot "github.com/projecteru2/bootkit/cmd/boot"
	cmdcodec "github.com/projecteru2/bootkit/cmd/codec"
	cmdcore "github.com/projecteru2/bootkit/cmd/core"
	cmdcpio "github.com/projecteru2/bootkit/cmd/cpio"
	cmdothers "github.com/projecteru2/bootkit/cmd/others"
	"github.com/projecteru2/bootkit/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bootkit",
		Short:         "bootkit - Android boot image toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(commandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("work-dir", ".", "directory holding unpacked component files")
	cmd.PersistentFlags().String("log-level", "info", "log level")

	_ = viper.BindPFlag("work_dir", cmd.PersistentFlags().Lookup("work-dir"))
	_ = viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("BOOTKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Names shared with the Magisk installer scripts, unprefixed.
	_ = viper.BindEnv("keep_verity", "KEEPVERITY")
	_ = viper.BindEnv("keep_force_encrypt", "KEEPFORCEENCRYPT")
	_ = viper.BindEnv("patch_vbmeta_flag", "PATCHVBMETAFLAG")
	_ = viper.BindEnv("init_binary")

	base := cmdcore.BaseHandler{ConfProvider: func() *config.Config { return conf }}

	for _, c := range cmdboot.Commands(cmdboot.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdcodec.Commands(cmdcodec.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdcpio.Commands(cmdcpio.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if conf.WorkDir == "" {
		conf.WorkDir = "."
	}

	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	rootCmd.SetArgs(expandShorthand(os.Args[1:]))
	return rootCmd.ExecuteContext(ctx)
}

// expandShorthand rewrites compress=FMT, compress-FMT and decompress-FMT
// into the command followed by -f FMT.
func expandShorthand(args []string) []string {
	if len(args) == 0 {
		return args
	}
	for _, verb := range []string{"compress", "decompress"} {
		for _, sep := range []string{"=", "-"} {
			if f, ok := strings.CutPrefix(args[0], verb+sep); ok && f != "" {
				return append([]string{verb, "-f", f}, args[1:]...)
			}
		}
	}
	return args
}
