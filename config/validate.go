package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/internal/logging"
	"github.com/oarkflow/pop/request"
)

// Validate rejects inconsistent settings. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	id := c.Identity
	sources := 0
	for _, set := range []bool{id.PKCS12File != "", id.KeyFile != "", len(id.ShareFiles) > 0} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		add("identity: pkcs12_file, key_file and share_files are mutually exclusive")
	}
	if (id.KeyFile != "" || len(id.ShareFiles) > 0) && id.CertFile == "" {
		add("identity: cert_file is required with key_file or share_files")
	}
	if id.PKCS12File != "" && id.CertFile != "" {
		add("identity: cert_file is read from pkcs12_file and must not be set")
	}
	if id.Algorithm != "" {
		if _, err := identity.ParseAlgorithm(id.Algorithm); err != nil {
			add("identity: %v", err)
		}
	}

	if c.Token.ClaimName == "" {
		add("token: claim_name must not be empty")
	} else if request.ReservedClaimName(c.Token.ClaimName) {
		add("token: claim_name %q is a reserved payload claim", c.Token.ClaimName)
	}
	if c.Token.Header == "" {
		add("token: header must not be empty")
	}
	if strings.ContainsAny(c.Token.Scheme, " \t") {
		add("token: scheme must be a single word")
	}

	v := c.Verifier
	if v.FreshnessWindow <= 0 {
		add("verifier: freshness_window must be positive")
	}
	if v.ClockSkew < 0 {
		add("verifier: clock_skew must not be negative")
	}
	if v.MaxTokenSize <= 0 {
		add("verifier: max_token_size must be positive")
	}

	r := v.Replay
	switch r.Backend {
	case "", BackendNone:
		if v.RequireNonce {
			add("verifier: require_nonce needs a replay backend")
		}
	case BackendMemory:
		if r.MaxEntries <= 0 {
			add("verifier.replay: max_entries must be positive")
		}
	case BackendRedis:
		if r.RedisAddr == "" {
			add("verifier.replay: redis_addr is required for the redis backend")
		}
		if r.RedisDB < 0 || r.RedisDB > 15 {
			add("verifier.replay: redis_db must be between 0 and 15")
		}
	default:
		add("verifier.replay: unknown backend %q (want none, memory or redis)", r.Backend)
	}
	if r.TTL < 0 {
		add("verifier.replay: ttl must not be negative")
	} else if r.TTL > 0 && r.TTL < v.FreshnessWindow+v.ClockSkew {
		add("verifier.replay: ttl %s is shorter than freshness_window + clock_skew", r.TTL)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log: %v", err)
	}

	return errors.Join(errs...)
}
