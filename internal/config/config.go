// Package config loads, validates, and persists the bridge's runtime
// configuration: motion-pipeline tuning (sensitivity, deadzone, gamma,
// spin axis) and button action bindings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/spacemouse-bridge/bridge/internal/logging"
)

var log = logging.L("config")

// ButtonAction describes what a single SpaceMouse button does.
type ButtonAction struct {
	Action string `mapstructure:"action" json:"action"`
	Value  string `mapstructure:"value" json:"value"`
}

// Config holds the recognized bridge options (spec.md §3).
type Config struct {
	Sensitivity float64                 `mapstructure:"sensitivity" json:"sensitivity"`
	Deadzone    int                     `mapstructure:"deadzone" json:"deadzone"`
	Gamma       float64                 `mapstructure:"gamma" json:"gamma"`
	SpinAxis    string                  `mapstructure:"spin_axis" json:"spin_axis"`
	Buttons     map[string]ButtonAction `mapstructure:"buttons" json:"buttons"`

	// Ambient logging stack, carried regardless of spec.md's Non-goals.
	LogLevel      string `mapstructure:"log_level" json:"log_level"`
	LogFormat     string `mapstructure:"log_format" json:"log_format"`
	LogFile       string `mapstructure:"log_file" json:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" json:"log_max_backups"`

	// Server host.
	ListenPort int    `mapstructure:"listen_port" json:"listen_port"`
	ConfigURL  string `mapstructure:"config_url" json:"config_url"`
}

// legacyShape handles the older {"translation": n} sensitivity encoding
// some CAD clients still ship in saved browser state (spec.md §3, §9).
type legacyShape struct {
	Translation *float64 `mapstructure:"translation"`
}

// Default returns the built-in configuration used when no file is found.
func Default() *Config {
	return &Config{
		Sensitivity:   1.0,
		Deadzone:      2,
		Gamma:         1.0,
		SpinAxis:      "z",
		Buttons:       map[string]ButtonAction{},
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
		ListenPort:    8181,
		ConfigURL:     "https://127.51.68.120:8181/config",
	}
}

// Load reads the config from cfgFile, or from the default
// $XDG_CONFIG_HOME/spacemouse-bridge/config.json path if cfgFile is empty.
// A missing file is not an error: Default() is returned instead.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(Dir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SPACEMOUSE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return cfg, nil
	}

	// Tolerate the legacy `sensitivity: {translation: n}` shape by probing
	// the raw value before the strict Unmarshal below would reject it.
	if raw := v.Get("sensitivity"); raw != nil {
		if _, isNumber := toFloat(raw); !isNumber {
			var legacy legacyShape
			if err := v.UnmarshalKey("sensitivity", &legacy); err == nil && legacy.Translation != nil {
				v.Set("sensitivity", *legacy.Translation)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// toFloat reports whether raw can be interpreted as a bare number.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Save atomically persists cfg to the default config path.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo atomically persists cfg as JSON to cfgFile, or to the default path
// if cfgFile is empty, by writing to a temp file in the same directory and
// renaming over the destination (spec.md §6).
func SaveTo(cfg *Config, cfgFile string) error {
	path := cfgFile
	if path == "" {
		path = filepath.Join(Dir(), "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("sensitivity", cfg.Sensitivity)
	v.Set("deadzone", cfg.Deadzone)
	v.Set("gamma", cfg.Gamma)
	v.Set("spin_axis", cfg.SpinAxis)
	v.Set("buttons", cfg.Buttons)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)
	v.Set("listen_port", cfg.ListenPort)
	v.Set("config_url", cfg.ConfigURL)

	tmp := path + ".tmp"
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(tmp, 0600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Dir returns $XDG_CONFIG_HOME/spacemouse-bridge, falling back to
// ~/.config/spacemouse-bridge (spec.md §6).
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "spacemouse-bridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/spacemouse-bridge"
	}
	return filepath.Join(home, ".config", "spacemouse-bridge")
}

// TLSDir returns the directory holding the self-signed TLS cert/key pair,
// colocated with the config file.
func TLSDir() string {
	return Dir()
}

// Snapshot returns a deep-enough copy of cfg safe to read without holding
// the guard that protects the live config (spec.md §5, copy-on-read).
func (c *Config) Snapshot() *Config {
	cp := *c
	cp.Buttons = make(map[string]ButtonAction, len(c.Buttons))
	for k, v := range c.Buttons {
		cp.Buttons[k] = v
	}
	return &cp
}
