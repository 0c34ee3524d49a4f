package sqlbridge

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables recognized by NewPoolEnv. SQLBRIDGE_URL is
// applied first; the individual variables override its fields.
const (
	EnvURL           = "SQLBRIDGE_URL"
	EnvDSN           = "SQLBRIDGE_DSN"
	EnvDriver        = "SQLBRIDGE_DRIVER"
	EnvHost          = "SQLBRIDGE_HOST"
	EnvPort          = "SQLBRIDGE_PORT"
	EnvUsername      = "SQLBRIDGE_USERNAME"
	EnvPassword      = "SQLBRIDGE_PASSWORD"
	EnvDatabase      = "SQLBRIDGE_DATABASE"
	EnvParams        = "SQLBRIDGE_PARAMS"
	EnvPoolSize      = "SQLBRIDGE_POOL_SIZE"
	EnvStmtCacheSize = "SQLBRIDGE_STMT_CACHE_SIZE"
	EnvSlowQueryMS   = "SQLBRIDGE_SLOW_QUERY_MS"
	// EnvAutoCreate makes NewPoolEnv create the configured database
	// before connecting the pool to it.
	EnvAutoCreate = "SQLBRIDGE_AUTO_CREATE_DB"
)

// applyEnv overlays SQLBRIDGE_* variables onto cfg.
func applyEnv(cfg Config) (Config, error) {
	if raw, ok := os.LookupEnv(EnvURL); ok && raw != "" {
		parsed, err := ParseURL(raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvURL, err)
		}
		// URL supplies connection fields only. Tuning sections carry
		// over from the base config.
		parsed.Pool = cfg.Pool
		parsed.Retry = cfg.Retry
		parsed.SlowQuery = cfg.SlowQuery
		parsed.Logging = cfg.Logging
		parsed.Metrics = cfg.Metrics
		parsed.Telemetry = cfg.Telemetry
		cfg = parsed
	}
	if v, ok := os.LookupEnv(EnvDSN); ok && v != "" { cfg.DSN = v }
	if v, ok := os.LookupEnv(EnvDriver); ok && v != "" { cfg.Driver = v }
	if v, ok := os.LookupEnv(EnvHost); ok && v != "" { cfg.Host = v }
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Port = p
	}
	if v, ok := os.LookupEnv(EnvUsername); ok && v != "" { cfg.Username = v }
	if v, ok := os.LookupEnv(EnvPassword); ok { cfg.Password = v }
	if v, ok := os.LookupEnv(EnvDatabase); ok && v != "" { cfg.Database = v }
	if v, ok := os.LookupEnv(EnvParams); ok && v != "" {
		params, err := parseEnvParams(v)
		if err != nil {
			return cfg, err
		}
		if cfg.Params == nil { cfg.Params = make(map[string]string, len(params)) }
		for k, pv := range params { cfg.Params[k] = pv }
	}
	if v, ok := os.LookupEnv(EnvPoolSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%s: invalid pool size %q", EnvPoolSize, v)
		}
		cfg.Pool.Size = n
	}
	if v, ok := os.LookupEnv(EnvStmtCacheSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: invalid cache size %q", EnvStmtCacheSize, v)
		}
		cfg.Pool.StmtCacheSize = n
	}
	if v, ok := os.LookupEnv(EnvSlowQueryMS); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return cfg, fmt.Errorf("%s: invalid threshold %q", EnvSlowQueryMS, v)
		}
		cfg.SlowQuery.Threshold = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}

// parseEnvParams splits "k1=v1&k2=v2" (or comma-separated) into a map.
func parseEnvParams(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.FieldsFunc(raw, func(r rune) bool { return r == '&' || r == ',' }) {
		pair = strings.TrimSpace(pair)
		if pair == "" { continue }
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed pair %q", EnvParams, pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// NewPoolEnv builds a pool from environment configuration alone.
func NewPoolEnv(ctx context.Context) (*Pool, error) {
	return newPoolFromEnv(ctx, Config{})
}

// NewPoolEnvWith overlays environment configuration onto base and
// builds a pool from the result.
func NewPoolEnvWith(ctx context.Context, base Config) (*Pool, error) {
	return newPoolFromEnv(ctx, base)
}

func newPoolFromEnv(ctx context.Context, base Config) (*Pool, error) {
	cfg, err := applyEnv(base)
	if err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(EnvAutoCreate); ok && v != "" {
		create, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid boolean %q", EnvAutoCreate, v)
		}
		if create {
			if err := EnsureDatabase(ctx, cfg); err != nil {
				return nil, err
			}
		}
	}
	return NewPool(ctx, cfg)
}
