// Package config reads the process configuration from the environment. An
// optional .env file in the working directory is loaded first; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"andstatus/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Account  models.Account
	Server   ServerConfig
	Stream   StreamConfig
	Sync     SyncConfig
	Redis    RedisConfig
	Log      LogConfig
	OTel     OTelConfig
}

type DatabaseConfig struct {
	// Path is the SQLite database with messages and users
	Path string
	// StatePath is the bbolt file with accounts, preferences and cursors
	StatePath string
}

type ServerConfig struct {
	Address string
}

type StreamConfig struct {
	Endpoints []string
	Compress  bool
}

// Enabled reports whether a stream consumer should run.
func (s StreamConfig) Enabled() bool {
	return len(s.Endpoints) > 0
}

type SyncConfig struct {
	MaxAttempts int
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type OTelConfig struct {
	Enabled bool
}

// LoadAll loads .env if present and reads every setting.
func LoadAll() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads every setting from the current environment.
func FromEnv() (*Config, error) {
	var errs []error
	r := &reader{errs: &errs}

	dataDir := defaultDataDir()
	cfg := &Config{
		Database: DatabaseConfig{
			Path:      getEnv("ANDSTATUS_DB_PATH", filepath.Join(dataDir, "andstatus.db")),
			StatePath: getEnv("ANDSTATUS_STATE_PATH", filepath.Join(dataDir, "andstatus-state.db")),
		},
		Account: models.Account{
			Name:     os.Getenv("ANDSTATUS_ACCOUNT"),
			OriginID: r.getInt64("ANDSTATUS_ORIGIN_ID", 1),
			UserOid:  os.Getenv("ANDSTATUS_USER_OID"),
			Username: os.Getenv("ANDSTATUS_USERNAME"),
		},
		Server: ServerConfig{
			Address: getEnv("ANDSTATUS_LISTEN_ADDR", ":18920"),
		},
		Stream: StreamConfig{
			Endpoints: splitList(os.Getenv("ANDSTATUS_STREAM_ENDPOINTS")),
			Compress:  r.getBool("ANDSTATUS_STREAM_COMPRESS", false),
		},
		Sync: SyncConfig{
			MaxAttempts: r.getInt("ANDSTATUS_SYNC_MAX_ATTEMPTS", 3),
		},
		Redis: r.redis(),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		},
		OTel: OTelConfig{
			Enabled: r.getBool("OTEL_ENABLED", false),
		},
	}

	if cfg.Account.Username == "" {
		cfg.Account.Username = usernameOf(cfg.Account.Name)
	}
	if cfg.Account.UserOid == "" && cfg.Account.Name != "" {
		cfg.Account.UserOid = "acct:" + cfg.Account.Name
	}

	errs = append(errs, validate(cfg)...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Account.OriginID <= 0 {
		errs = append(errs, errors.New("ANDSTATUS_ORIGIN_ID must be > 0"))
	}
	if cfg.Sync.MaxAttempts <= 0 {
		errs = append(errs, errors.New("ANDSTATUS_SYNC_MAX_ATTEMPTS must be > 0"))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console: %q", cfg.Log.Format))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	for _, ep := range cfg.Stream.Endpoints {
		if !strings.HasPrefix(ep, "ws://") && !strings.HasPrefix(ep, "wss://") {
			errs = append(errs, fmt.Errorf("ANDSTATUS_STREAM_ENDPOINTS: not a websocket URL: %q", ep))
		}
	}
	return errs
}

// reader collects parse errors so every bad variable is reported at once.
type reader struct {
	errs *[]error
}

func (r *reader) redis() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       r.getInt("REDIS_DB", 0),
		TTL:      time.Duration(r.getInt("REDIS_TTL_SECONDS", 600)) * time.Second,
	}
}

func (r *reader) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("invalid int for env %s: %q", key, v))
		return def
	}
	return i
}

func (r *reader) getInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("invalid int for env %s: %q", key, v))
		return def
	}
	return i
}

func (r *reader) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("invalid bool for env %s: %q", key, v))
		return def
	}
	return b
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitList splits a comma separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// usernameOf takes the part of an account name before the host.
func usernameOf(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "andstatus")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "andstatus")
	}
	return "."
}
