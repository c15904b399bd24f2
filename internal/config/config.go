// Package config loads the conductor's process-wide configuration: flat
// env vars with defaults via envString/envInt/envBool helpers,
// validated once at startup, no remote config service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the conductor process's base configuration — everything
// that is not a per-device option (those live in device.Options, validated
// separately at each adapter's Init).
type Config struct {
	Host string
	Port string

	// LookaheadMs is the conductor tick's look-ahead horizon, the distance
	// into the future the resolver is asked to report change-points for.
	LookaheadMs int64

	// InitializeAsClear: if true, every device is driven to its default
	// state at startup. If false, no startup clear is issued; current
	// device state is not queried either.
	InitializeAsClear bool

	// ReconcileCron is a robfig/cron expression for the conductor's
	// housekeeping reconcile job (MakeReady on every device reporting
	// disconnected), independent of the per-tick look-ahead loop.
	ReconcileCron string

	// MappingFilePath points at the YAML mapping table (layerName ->
	// device routing). It is read once at startup; later edits to the file
	// are not watched or reloaded.
	MappingFilePath string

	// AuditDBPath is the SQLite file the command audit trail is appended
	// to. Empty disables the audit trail.
	AuditDBPath string

	JWTSecret       string
	ControlAPIToken string

	DeviceConnectTimeoutMs int
	SlowCommandThresholdMs int64
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	host := envString("HOST", "0.0.0.0")
	port := envString("PORT", "9000")
	lookahead := envInt("LOOKAHEAD_MS", 2000)
	initAsClear := envBool("INITIALIZE_AS_CLEAR", true)
	reconcileCron := envString("RECONCILE_CRON", "* * * * *")
	mappingPath := envString("MAPPING_FILE_PATH", "./config/mapping.yaml")
	auditDBPath := envString("AUDIT_DB_PATH", "./data/audit.db")
	jwtSecret := envString("JWT_SECRET", "")
	controlAPIToken := envString("CONTROL_API_TOKEN", "")
	connectTimeout := envInt("DEVICE_CONNECT_TIMEOUT_MS", 5000)
	slowCommandThreshold := envInt("SLOW_COMMAND_THRESHOLD_MS", 1000)

	if len(strings.TrimSpace(jwtSecret)) > 0 && len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters when set")
	}

	return Config{
		Host:                   host,
		Port:                   port,
		LookaheadMs:            int64(lookahead),
		InitializeAsClear:      initAsClear,
		ReconcileCron:          reconcileCron,
		MappingFilePath:        mappingPath,
		AuditDBPath:            auditDBPath,
		JWTSecret:              jwtSecret,
		ControlAPIToken:        controlAPIToken,
		DeviceConnectTimeoutMs: connectTimeout,
		SlowCommandThresholdMs: int64(slowCommandThreshold),
	}, nil
}

// ConnectTimeout returns DeviceConnectTimeoutMs as a time.Duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.DeviceConnectTimeoutMs) * time.Millisecond
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
