package config

import (
	"fmt"
	"os"
	"path/filepath"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global bootkit configuration.
type Config struct {
	// WorkDir is where unpack writes and repack reads component files.
	WorkDir string `mapstructure:"work_dir"`
	// KeepVerity leaves dm-verity enforcement in place during cpio patch.
	KeepVerity bool `mapstructure:"keep_verity"`
	// KeepForceEncrypt leaves forced encryption in place during cpio patch.
	KeepForceEncrypt bool `mapstructure:"keep_force_encrypt"`
	// PatchVbmetaFlag disables AVB verification in the repacked vbmeta.
	PatchVbmetaFlag bool `mapstructure:"patch_vbmeta_flag"`
	// InitBinary is the root init payload cpio patch installs, if any.
	InitBinary string `mapstructure:"init_binary"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkDir: ".",
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Path returns name inside the work directory.
func (c *Config) Path(name string) string { return filepath.Join(c.WorkDir, name) }

// LoadInitBinary reads the configured root init payload. No path means no
// payload.
func (c *Config) LoadInitBinary() ([]byte, error) {
	if c.InitBinary == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.InitBinary)
	if err != nil {
		return nil, fmt.Errorf("read init binary: %w", err)
	}
	return data, nil
}
