// Package config assembles the server's configuration from CLI flags
// with environment-variable fallbacks, flags always winning.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every CLI knob the server accepts plus the ambient
// additions layered on top (metrics, logging, idle timeout).
type Config struct {
	Width  uint32
	Height uint32

	Port int

	Threads int

	ConnectionsPerIP uint32 // 0 = unlimited

	CanvasFileLink string

	RemoveCanvas bool

	IdleTimeout time.Duration // 0 = disabled

	MetricsAddr string // "" = disabled

	LogLevel  string
	LogFormat string
}

const envPrefix = "WELLENBRECHER"

// RegisterFlags adds every server flag (plus the ambient ones) to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Uint32("width", 800, "canvas width (ignored if an existing compatible canvas is found)")
	fs.Uint32("height", 600, "canvas height (ignored if an existing compatible canvas is found)")
	fs.Int("port", 1337, "TCP listen port")
	fs.IntP("threads", "n", 0, "number of worker shards (0 = one per logical CPU)")
	fs.Uint32P("connections-per-ip", "c", 0, "max simultaneous connections per source IP (0 = unlimited)")
	fs.String("canvas-file-link", "/tmp/wellenbrecher-canvas", "shared-memory region link path")
	fs.Bool("remove-canvas", false, "unlink the canvas region and exit")
	fs.Duration("idle-timeout", 0, "close a connection idle this long (0 = disabled)")
	fs.String("metrics-addr", "", "address to serve Prometheus metrics on (empty = disabled)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text, json")
}

// Load merges fs (already parsed) with WELLENBRECHER_* environment
// variables, flags taking precedence, and validates the result.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	for _, key := range []string{
		"width", "height", "port", "threads", "connections-per-ip",
		"canvas-file-link", "remove-canvas", "idle-timeout",
		"metrics-addr", "log-level", "log-format",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	cfg := &Config{
		Width:            v.GetUint32("width"),
		Height:           v.GetUint32("height"),
		Port:             v.GetInt("port"),
		Threads:          v.GetInt("threads"),
		ConnectionsPerIP: v.GetUint32("connections-per-ip"),
		CanvasFileLink:   v.GetString("canvas-file-link"),
		RemoveCanvas:     v.GetBool("remove-canvas"),
		IdleTimeout:      v.GetDuration("idle-timeout"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("config: width and height must be >= 1")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0")
	}
	return nil
}
