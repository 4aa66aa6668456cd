// Package config loads lspsession settings.
//
// Settings come from, lowest priority first: built-in defaults, a TOML or
// YAML file, then LSPSESSION_* environment variables. A file looks like:
//
//	[log]
//	level = "debug"
//
//	[request]
//	timeout = "15s"
//
//	[[lsp]]
//	filetype = "rs"
//	command = "rust-analyzer"
//
//	[[lsp]]
//	filetype = "py"
//	command = "pyrefly lsp"
//	language_id = "python"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/lspsession/internal/config/loader"
	"github.com/dshills/lspsession/internal/logging"
	"github.com/dshills/lspsession/internal/lsp"
)

const (
	// AppName names the config directory and file.
	AppName = "lspsession"
	// EnvPrefix is the prefix of environment overrides.
	EnvPrefix = "LSPSESSION_"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full lspsession configuration.
type Config struct {
	Log      LogConfig     `toml:"log" yaml:"log"`
	Request  TimeoutConfig `toml:"request" yaml:"request"`
	Shutdown TimeoutConfig `toml:"shutdown" yaml:"shutdown"`
	LSP      []ServerEntry `toml:"lsp" yaml:"lsp"`

	// Path is the file the config was read from, empty when only defaults
	// and environment were used.
	Path string `toml:"-" yaml:"-"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	// File receives log output. Empty means stderr.
	File string `toml:"file" yaml:"file"`
}

// TimeoutConfig holds a single timeout.
type TimeoutConfig struct {
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// ServerEntry configures the language server for one file type.
type ServerEntry struct {
	// Filetype is matched against file extensions (without the dot) and
	// detected language ids.
	Filetype string `toml:"filetype" yaml:"filetype"`
	// Command is a shell-style command line.
	Command    string            `toml:"command" yaml:"command"`
	LanguageID string            `toml:"language_id" yaml:"language_id"`
	Dir        string            `toml:"dir" yaml:"dir"`
	Env        map[string]string `toml:"env" yaml:"env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:      LogConfig{Level: "info"},
		Request:  TimeoutConfig{Timeout: Duration(lsp.DefaultRequestTimeout)},
		Shutdown: TimeoutConfig{Timeout: Duration(lsp.DefaultShutdownTimeout)},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/lspsession/lspsession.toml, falling
// back to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", AppName, AppName+".toml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName, AppName+".toml")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	return LoadWithFS(loader.DefaultFS(), path)
}

// LoadWithFS is Load reading through fs.
func LoadWithFS(fs loader.FileSystem, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		found, err := loader.NewWithFS(fs).LoadInto(path, cfg)
		if err != nil {
			return nil, err
		}
		if found {
			cfg.Path = path
		}
	}

	if err := cfg.applyEnv(loader.NewEnvLoader(EnvPrefix).Load()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(values map[string]string) error {
	for path, value := range values {
		switch path {
		case "log.level":
			c.Log.Level = value
		case "log.file":
			c.Log.File = value
		case "request.timeout":
			if err := c.Request.Timeout.UnmarshalText([]byte(value)); err != nil {
				return fmt.Errorf("%sREQUEST_TIMEOUT: %w", EnvPrefix, err)
			}
		case "shutdown.timeout":
			if err := c.Shutdown.Timeout.UnmarshalText([]byte(value)); err != nil {
				return fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
			}
		}
	}
	return nil
}

// Validate checks the configuration and returns every problem found,
// joined. Each one is a *ValidationError.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if !logging.ValidLevel(c.Log.Level) {
		invalid("log.level", "unknown level", c.Log.Level)
	}
	if c.Request.Timeout <= 0 {
		invalid("request.timeout", "must be positive", c.Request.Timeout.Std())
	}
	if c.Shutdown.Timeout <= 0 {
		invalid("shutdown.timeout", "must be positive", c.Shutdown.Timeout.Std())
	}

	seen := make(map[string]bool)
	for i, entry := range c.LSP {
		prefix := fmt.Sprintf("lsp[%d]", i)
		if entry.Filetype == "" {
			invalid(prefix+".filetype", "is required", entry.Filetype)
		} else if seen[entry.Filetype] {
			invalid(prefix+".filetype", "duplicate file type", entry.Filetype)
		}
		seen[entry.Filetype] = true

		if entry.Command == "" {
			invalid(prefix+".command", "is required", entry.Command)
		} else if _, _, err := lsp.SplitCommand(entry.Command); err != nil {
			invalid(prefix+".command", err.Error(), entry.Command)
		}
	}

	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// ServerConfigs converts the [[lsp]] entries for lsp.NewManager.
func (c *Config) ServerConfigs() []lsp.ServerConfig {
	configs := make([]lsp.ServerConfig, 0, len(c.LSP))
	for _, entry := range c.LSP {
		configs = append(configs, lsp.ServerConfig{
			Name:       entry.Filetype,
			Command:    entry.Command,
			Env:        entry.Env,
			Dir:        entry.Dir,
			LanguageID: entry.LanguageID,
		})
	}
	return configs
}

// Server returns the entry for filetype.
func (c *Config) Server(filetype string) (ServerEntry, bool) {
	for _, entry := range c.LSP {
		if entry.Filetype == filetype {
			return entry, true
		}
	}
	return ServerEntry{}, false
}
