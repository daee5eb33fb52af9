package config

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/internal/logging"
	"github.com/oarkflow/pop/pophttp"
	"github.com/oarkflow/pop/replay"
	"github.com/oarkflow/pop/token"
)

// LoadIdentity builds the configured identity.
func (c *Config) LoadIdentity() (*identity.Identity, error) {
	var opts []identity.Option
	if c.Identity.Algorithm != "" {
		alg, err := identity.ParseAlgorithm(c.Identity.Algorithm)
		if err != nil {
			return nil, err
		}
		opts = append(opts, identity.WithAlgorithm(alg))
	}

	id := c.Identity
	switch {
	case id.PKCS12File != "":
		var password string
		if id.PKCS12PasswordEnv != "" {
			password = os.Getenv(id.PKCS12PasswordEnv)
		}
		return identity.LoadPKCS12File(id.PKCS12File, password, opts...)
	case len(id.ShareFiles) > 0:
		return identity.LoadShareFiles(id.CertFile, id.ShareFiles, opts...)
	case id.CertFile != "":
		return identity.LoadPEMFiles(id.CertFile, id.KeyFile, opts...)
	default:
		return nil, fmt.Errorf("%w: no identity configured", pop.ErrKey)
	}
}

// Logger builds the configured logger.
func (c *Config) Logger() (*zap.Logger, error) {
	return logging.New(c.Log.Level, c.Log.Development)
}

// NewReplayCache returns the configured nonce cache, or nil for the "none"
// backend. The caller closes it.
func (c *Config) NewReplayCache(ctx context.Context) (replay.Cache, error) {
	r := c.Verifier.Replay
	switch r.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return replay.NewMemoryCache(replay.WithTTL(r.TTL), replay.WithMaxEntries(r.MaxEntries)), nil
	case BackendRedis:
		cache, err := replay.NewRedisCache(ctx, replay.RedisConfig{
			Address:   r.RedisAddr,
			Password:  r.RedisPassword,
			DB:        r.RedisDB,
			KeyPrefix: r.KeyPrefix,
			TTL:       r.TTL,
		})
		if err != nil {
			return nil, err
		}
		return cache, nil
	default:
		return nil, fmt.Errorf("unknown replay backend %q", r.Backend)
	}
}

// NewVerifier builds a verifier from the verifier section. cache may be nil.
func (c *Config) NewVerifier(logger *zap.Logger, cache replay.Cache) *token.Verifier {
	v := c.Verifier
	opts := []token.VerifierOption{
		token.WithFreshnessWindow(v.FreshnessWindow),
		token.WithClockSkew(v.ClockSkew),
		token.WithMaxTokenSize(v.MaxTokenSize),
		token.WithRequireNonce(v.RequireNonce),
		token.WithLogger(logger),
	}
	if cache != nil {
		opts = append(opts, token.WithReplayCache(cache))
	}
	return token.NewVerifier(opts...)
}

// BuilderOptions returns the builder options of the token section.
func (c *Config) BuilderOptions() []token.BuilderOption {
	var opts []token.BuilderOption
	if c.Token.Nonce {
		opts = append(opts, token.WithNonce())
	}
	return opts
}

// TransportOptions returns the client transport options of the token section.
func (c *Config) TransportOptions() []pophttp.TransportOption {
	return []pophttp.TransportOption{
		pophttp.WithBuilder(token.NewBuilder(c.BuilderOptions()...)),
		pophttp.WithHeader(c.Token.Header, c.Token.Scheme),
		pophttp.WithClaimName(c.Token.ClaimName),
		pophttp.WithBoundHeaders(c.Token.BindHeaders...),
	}
}

// MiddlewareOptions returns the server middleware options of the token
// section. Headers listed in bind_headers become required.
func (c *Config) MiddlewareOptions(logger *zap.Logger) []pophttp.MiddlewareOption {
	opts := []pophttp.MiddlewareOption{
		pophttp.WithMiddlewareLogger(logger),
		pophttp.WithCredentialHeader(c.Token.Header, c.Token.Scheme),
		pophttp.WithExpectedClaim(c.Token.ClaimName),
	}
	if len(c.Token.BindHeaders) > 0 {
		opts = append(opts, pophttp.WithRequiredHeaders(c.Token.BindHeaders...))
	}
	return opts
}
