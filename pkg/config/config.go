// Package config loads rdbg settings from $HOME/.rdbg.yaml, RDBG_* environment
// variables and command line flags bound by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

const (
	// EnvPrefix is the prefix of every environment override, RDBG_LOG_LEVEL etc.
	EnvPrefix = "rdbg"
	// FileName is the config file looked up in the home directory.
	FileName = ".rdbg"
)

// Keys understood in the config file. Nested keys map to RDBG_<SECTION>_<KEY>.
const (
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyAgentListen    = "agent.listen"
	KeyAgentAddress   = "agent.address"
	KeyAgentTimeout   = "agent.timeout"
	KeyStopMode       = "breakpoint.stop_mode"
	KeyShellTimeout   = "shell.timeout"
	KeyShellAsmSyntax = "shell.asm_syntax"
)

// Config is the resolved configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Breakpoint BreakpointConfig `mapstructure:"breakpoint"`
	Shell      ShellConfig      `mapstructure:"shell"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AgentConfig struct {
	// Listen is the address `rdbg agent` serves on.
	Listen string `mapstructure:"listen"`
	// Address is the websocket url `rdbg connect` dials.
	Address string `mapstructure:"address"`
	// Timeout bounds each request to a remote agent, 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type BreakpointConfig struct {
	// StopMode is used for breakpoints created from the shell.
	StopMode string `mapstructure:"stop_mode"`
}

type ShellConfig struct {
	// Timeout bounds how long the shell waits for a command's completion.
	Timeout time.Duration `mapstructure:"timeout"`
	// AsmSyntax is one of go, gnu, intel.
	AsmSyntax string `mapstructure:"asm_syntax"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, string(rlog.FormatText))
	v.SetDefault(KeyAgentListen, "127.0.0.1:7788")
	v.SetDefault(KeyAgentAddress, "ws://127.0.0.1:7788/agent")
	v.SetDefault(KeyAgentTimeout, 10*time.Second)
	v.SetDefault(KeyStopMode, agent.StopAll.String())
	v.SetDefault(KeyShellTimeout, 30*time.Second)
	v.SetDefault(KeyShellAsmSyntax, "go")
}

// Load reads file into v, or $HOME/.rdbg.yaml when file is empty, and decodes
// the result. A missing default file is not an error, a missing explicit one is.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%s: unknown level %q", KeyLogLevel, c.Log.Level)
	}
	switch rlog.Format(c.Log.Format) {
	case rlog.FormatJSON, rlog.FormatText:
	default:
		return fmt.Errorf("%s: unknown format %q", KeyLogFormat, c.Log.Format)
	}
	if _, err := ParseStopMode(c.Breakpoint.StopMode); err != nil {
		return fmt.Errorf("%s: %w", KeyStopMode, err)
	}
	switch c.Shell.AsmSyntax {
	case "go", "gnu", "intel":
	default:
		return fmt.Errorf("%s: unknown syntax %q", KeyShellAsmSyntax, c.Shell.AsmSyntax)
	}
	return nil
}

// StopMode returns the configured default stop mode.
func (c *Config) StopMode() agent.StopMode {
	mode, err := ParseStopMode(c.Breakpoint.StopMode)
	if err != nil {
		return agent.StopAll
	}
	return mode
}

// Logging converts the log section for pkg/log, writing to stderr.
func (c *Config) Logging() *rlog.Config {
	cfg := rlog.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = rlog.Format(c.Log.Format)
	cfg.Output = os.Stderr
	return cfg
}

// ParseStopMode parses none, thread, process or all.
func ParseStopMode(s string) (agent.StopMode, error) {
	for _, m := range []agent.StopMode{agent.StopNone, agent.StopThread, agent.StopProcess, agent.StopAll} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return agent.StopAll, fmt.Errorf("unknown stop mode %q", s)
}
