// Package config loads the YAML configuration shared by the commands and
// wires it into identities, verifiers, replay caches and loggers.
//
// Values are resolved in three layers: built-in defaults, the YAML file, and
// POP_* environment variables (optionally loaded from .env files first):
//
//   - POP_PKCS12_FILE, POP_PKCS12_PASSWORD_ENV, POP_CERT_FILE, POP_KEY_FILE,
//     POP_SHARE_FILES (comma separated), POP_ALGORITHM
//   - POP_CLAIM_NAME, POP_NONCE, POP_BIND_HEADERS, POP_HEADER, POP_SCHEME
//   - POP_FRESHNESS_WINDOW, POP_CLOCK_SKEW, POP_MAX_TOKEN_SIZE, POP_REQUIRE_NONCE
//   - POP_REPLAY_BACKEND, POP_REPLAY_TTL, POP_REPLAY_MAX_ENTRIES, POP_REDIS_ADDR,
//     POP_REDIS_PASSWORD, POP_REDIS_DB, POP_REDIS_KEY_PREFIX
//   - POP_LOG_LEVEL, POP_LOG_DEVELOPMENT
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/replay"
	"github.com/oarkflow/pop/token"
)

// Replay backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full configuration file.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Token    TokenConfig    `yaml:"token"`
	Verifier VerifierConfig `yaml:"verifier"`
	Log      LogConfig      `yaml:"log"`
}

// IdentityConfig says where the signing identity comes from. Exactly one key
// source (PKCS#12, PEM key, or key shares) may be set; with only a
// certificate the identity is verify-only.
type IdentityConfig struct {
	PKCS12File        string   `yaml:"pkcs12_file"`
	PKCS12PasswordEnv string   `yaml:"pkcs12_password_env"`
	CertFile          string   `yaml:"cert_file"`
	KeyFile           string   `yaml:"key_file"`
	ShareFiles        []string `yaml:"share_files"`
	Algorithm         string   `yaml:"algorithm"`
}

// TokenConfig shapes the authenticators a client produces.
type TokenConfig struct {
	ClaimName   string   `yaml:"claim_name"`
	Nonce       bool     `yaml:"nonce"`
	BindHeaders []string `yaml:"bind_headers"`
	Header      string   `yaml:"header"`
	Scheme      string   `yaml:"scheme"`
}

// VerifierConfig shapes how authenticators are accepted.
type VerifierConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	ClockSkew       time.Duration `yaml:"clock_skew"`
	MaxTokenSize    int           `yaml:"max_token_size"`
	RequireNonce    bool          `yaml:"require_nonce"`
	Replay          ReplayConfig  `yaml:"replay"`
}

// ReplayConfig selects the nonce cache.
type ReplayConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Token: TokenConfig{
			ClaimName: pop.ClaimAccessToken,
			Header:    pop.DefaultHeader,
			Scheme:    pop.DefaultScheme,
		},
		Verifier: VerifierConfig{
			FreshnessWindow: token.DefaultFreshnessWindow,
			ClockSkew:       token.DefaultClockSkew,
			MaxTokenSize:    token.DefaultMaxTokenSize,
			Replay: ReplayConfig{
				Backend:    BackendNone,
				TTL:        replay.DefaultTTL,
				MaxEntries: replay.DefaultMaxEntries,
				KeyPrefix:  replay.DefaultKeyPrefix,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from POP_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("POP_PKCS12_FILE", &c.Identity.PKCS12File)
	str("POP_PKCS12_PASSWORD_ENV", &c.Identity.PKCS12PasswordEnv)
	str("POP_CERT_FILE", &c.Identity.CertFile)
	str("POP_KEY_FILE", &c.Identity.KeyFile)
	list("POP_SHARE_FILES", &c.Identity.ShareFiles)
	str("POP_ALGORITHM", &c.Identity.Algorithm)

	str("POP_CLAIM_NAME", &c.Token.ClaimName)
	boolean("POP_NONCE", &c.Token.Nonce)
	list("POP_BIND_HEADERS", &c.Token.BindHeaders)
	str("POP_HEADER", &c.Token.Header)
	str("POP_SCHEME", &c.Token.Scheme)

	duration("POP_FRESHNESS_WINDOW", &c.Verifier.FreshnessWindow)
	duration("POP_CLOCK_SKEW", &c.Verifier.ClockSkew)
	integer("POP_MAX_TOKEN_SIZE", &c.Verifier.MaxTokenSize)
	boolean("POP_REQUIRE_NONCE", &c.Verifier.RequireNonce)

	r := &c.Verifier.Replay
	str("POP_REPLAY_BACKEND", &r.Backend)
	duration("POP_REPLAY_TTL", &r.TTL)
	integer("POP_REPLAY_MAX_ENTRIES", &r.MaxEntries)
	str("POP_REDIS_ADDR", &r.RedisAddr)
	str("POP_REDIS_PASSWORD", &r.RedisPassword)
	integer("POP_REDIS_DB", &r.RedisDB)
	str("POP_REDIS_KEY_PREFIX", &r.KeyPrefix)

	str("POP_LOG_LEVEL", &c.Log.Level)
	boolean("POP_LOG_DEVELOPMENT", &c.Log.Development)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
