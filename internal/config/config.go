package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the run configuration.
type Config struct {
	Backend  string         `mapstructure:"backend"`
	Debug    bool           `mapstructure:"debug"`
	Kernel   KernelConfig   `mapstructure:"kernel"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Saxpy    SaxpyConfig    `mapstructure:"saxpy"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type KernelConfig struct {
	// Path is resolved relative to the executable directory unless absolute.
	Path    string `mapstructure:"path"`
	Entry   string `mapstructure:"entry"`
	Profile string `mapstructure:"profile"`
}

type DispatchConfig struct {
	Groups    int `mapstructure:"groups"`
	GroupSize int `mapstructure:"group_size"`
	// Elements overrides Groups*GroupSize when positive.
	Elements int `mapstructure:"elements"`
}

type SaxpyConfig struct {
	A float32 `mapstructure:"a"`
}

type VerifyConfig struct {
	MaxReport    int     `mapstructure:"max_report"`
	ToleranceAbs float64 `mapstructure:"tolerance_abs"`
	ToleranceRel float64 `mapstructure:"tolerance_rel"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns the configuration of the reference run:
// 16 groups of 512 elements, a = 2.
func DefaultConfig() *Config {
	return &Config{
		Backend: "",
		Kernel: KernelConfig{
			Path:    "saxpy.wgsl",
			Entry:   "saxpy",
			Profile: "wgsl",
		},
		Dispatch: DispatchConfig{
			Groups:    16,
			GroupSize: 512,
		},
		Saxpy:  SaxpyConfig{A: 2.0},
		Verify: VerifyConfig{MaxReport: 10},
		Logging: LoggingConfig{
			Level:   "warn",
			Console: true,
		},
	}
}

// Elements is the problem size of the run.
func (c *Config) Elements() int {
	if c.Dispatch.Elements > 0 {
		return c.Dispatch.Elements
	}
	return c.Dispatch.Groups * c.Dispatch.GroupSize
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"backend":       "backend",
	"debug":         "debug",
	"kernel":        "kernel.path",
	"entry":         "kernel.entry",
	"profile":       "kernel.profile",
	"groups":        "dispatch.groups",
	"group-size":    "dispatch.group_size",
	"elements":      "dispatch.elements",
	"a":             "saxpy.a",
	"max-report":    "verify.max_report",
	"tolerance-abs": "verify.tolerance_abs",
	"tolerance-rel": "verify.tolerance_rel",
	"log-level":     "logging.level",
	"log-file":      "logging.file",
}

// Load reads configuration from defaults, the config file, SAXPY_*
// environment variables and finally any flags in fs that were set.
// cfgFile may be empty, in which case $HOME/.saxpy/config.yaml and
// ./config.yaml are tried and a missing file is not an error.
func Load(cfgFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".saxpy"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SAXPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that cannot be sensibly defaulted.
func (c *Config) Validate() error {
	if c.Dispatch.Groups <= 0 && c.Dispatch.Elements <= 0 {
		return errors.New("dispatch.groups must be positive")
	}
	if c.Dispatch.GroupSize <= 0 {
		return errors.New("dispatch.group_size must be positive")
	}
	if c.Kernel.Entry == "" {
		return errors.New("kernel.entry must not be empty")
	}
	if c.Verify.ToleranceAbs < 0 || c.Verify.ToleranceRel < 0 {
		return errors.New("verify tolerances must not be negative")
	}
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("debug", cfg.Debug)

	v.SetDefault("kernel.path", cfg.Kernel.Path)
	v.SetDefault("kernel.entry", cfg.Kernel.Entry)
	v.SetDefault("kernel.profile", cfg.Kernel.Profile)

	v.SetDefault("dispatch.groups", cfg.Dispatch.Groups)
	v.SetDefault("dispatch.group_size", cfg.Dispatch.GroupSize)
	v.SetDefault("dispatch.elements", cfg.Dispatch.Elements)

	v.SetDefault("saxpy.a", cfg.Saxpy.A)

	v.SetDefault("verify.max_report", cfg.Verify.MaxReport)
	v.SetDefault("verify.tolerance_abs", cfg.Verify.ToleranceAbs)
	v.SetDefault("verify.tolerance_rel", cfg.Verify.ToleranceRel)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
