// Package config manages smlcd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete smlcd configuration.
type Config struct {
	SCCP    SCCPConfig    `koanf:"sccp"`
	Lb      LbConfig      `koanf:"lb"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`

	// CellsFile is the path to the cell location database (VTY-style
	// lac-ci/cgi commands read by internal/config/cellsfile).
	CellsFile string `koanf:"cells_file"`
}

// SCCPConfig holds this SMLC's identity on the SCCP user SAP and the
// address the underlying SCCP/M3UA provider listens on. The provider itself
// is wired in behind internal/sccpsap.Provider; this module never touches
// SCTP directly.
type SCCPConfig struct {
	// ListenAddr is the local M3UA/SCTP listen address (e.g., ":2905").
	ListenAddr string `koanf:"listen_addr"`
	// PointCode is this SMLC's own SCCP point code.
	PointCode uint32 `koanf:"point_code"`
	// SSN is this SMLC's subsystem number (3GPP assigns SSN 0x31/49 to the
	// SMLC in some deployments; operators commonly configure their own).
	SSN uint8 `koanf:"ssn"`
}

// LbConfig holds the Lb interface protocol timer defaults (3GPP TS 48.071 /
// TS 49.031), all 5s unless overridden.
type LbConfig struct {
	// ResetTimeout is T-13: time a peer waits passively in WAIT_RX_RESET
	// before retransmitting RESET.
	ResetTimeout time.Duration `koanf:"reset_timeout"`
	// ResetAckTimeout is T-14: time a peer waits for RESET ACK after
	// sending RESET before reverting to WAIT_RX_RESET.
	ResetAckTimeout time.Duration `koanf:"reset_ack_timeout"`
	// WaitTATimeout is T-12: time a location request waits for a BSSLAP
	// TA Response before failing.
	WaitTATimeout time.Duration `koanf:"wait_ta_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The Lb
// timer defaults of 5s each match g_smlc_tdefs in the original
// implementation.
func DefaultConfig() *Config {
	return &Config{
		SCCP: SCCPConfig{
			ListenAddr: ":2905",
			PointCode:  0,
			SSN:        0x31,
		},
		Lb: LbConfig{
			ResetTimeout:    5 * time.Second,
			ResetAckTimeout: 5 * time.Second,
			WaitTATimeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CellsFile: "",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for smlcd configuration.
// Variables are named SMLCD_<section>_<key>, e.g., SMLCD_SCCP_LISTEN_ADDR.
const envPrefix = "SMLCD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SMLCD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	SMLCD_SCCP_LISTEN_ADDR -> sccp.listen_addr
//	SMLCD_SCCP_POINT_CODE  -> sccp.point_code
//	SMLCD_LB_RESET_TIMEOUT -> lb.reset_timeout
//	SMLCD_METRICS_ADDR     -> metrics.addr
//	SMLCD_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SMLCD_SCCP_LISTEN_ADDR -> sccp.listen_addr.
// Strips the SMLCD_ prefix, lowercases, and replaces the _ that follows a
// section name (sccp, lb, metrics, log) with .; the key within the section
// keeps its underscores, and a top-level key such as cells_file is unchanged.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"sccp", "lb", "metrics", "log"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"sccp.listen_addr":     defaults.SCCP.ListenAddr,
		"sccp.point_code":      defaults.SCCP.PointCode,
		"sccp.ssn":             defaults.SCCP.SSN,
		"lb.reset_timeout":     defaults.Lb.ResetTimeout.String(),
		"lb.reset_ack_timeout": defaults.Lb.ResetAckTimeout.String(),
		"lb.wait_ta_timeout":   defaults.Lb.WaitTATimeout.String(),
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
		"cells_file":           defaults.CellsFile,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptySCCPListenAddr indicates the SCCP/M3UA listen address is empty.
	ErrEmptySCCPListenAddr = errors.New("sccp.listen_addr must not be empty")

	// ErrInvalidResetTimeout indicates lb.reset_timeout is not positive.
	ErrInvalidResetTimeout = errors.New("lb.reset_timeout must be > 0")

	// ErrInvalidResetAckTimeout indicates lb.reset_ack_timeout is not positive.
	ErrInvalidResetAckTimeout = errors.New("lb.reset_ack_timeout must be > 0")

	// ErrInvalidWaitTATimeout indicates lb.wait_ta_timeout is not positive.
	ErrInvalidWaitTATimeout = errors.New("lb.wait_ta_timeout must be > 0")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.SCCP.ListenAddr == "" {
		return ErrEmptySCCPListenAddr
	}
	if cfg.Lb.ResetTimeout <= 0 {
		return ErrInvalidResetTimeout
	}
	if cfg.Lb.ResetAckTimeout <= 0 {
		return ErrInvalidResetAckTimeout
	}
	if cfg.Lb.WaitTATimeout <= 0 {
		return ErrInvalidWaitTATimeout
	}
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
