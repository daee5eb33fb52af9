package pophttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/request"
	"github.com/oarkflow/pop/token"
)

type contextKey int

const (
	claimsKey contextKey = iota
	identityKey
)

// ClaimsFromContext returns the claims of the authenticator accepted for the
// request, if any.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok
}

// IdentityFromContext returns the identity that signed the request, if any.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*identity.Identity)
	return id, ok
}

// AccessTokenValidator checks the access token carried inside an accepted
// authenticator. A non-nil error rejects the request.
type AccessTokenValidator func(ctx context.Context, accessToken string) error

// Middleware verifies PoP authenticators on incoming requests.
type Middleware struct {
	verifier        *token.Verifier
	trust           TrustStore
	validate        AccessTokenValidator
	logger          *zap.Logger
	header          string
	scheme          string
	claimName       string
	requiredHeaders []string
}

// MiddlewareOption customizes a Middleware.
type MiddlewareOption func(*Middleware)

// WithMiddlewareLogger sets the logger for rejected and accepted requests.
func WithMiddlewareLogger(logger *zap.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAccessTokenValidator checks the carried access token after the
// authenticator itself has been verified.
func WithAccessTokenValidator(fn AccessTokenValidator) MiddlewareOption {
	return func(m *Middleware) { m.validate = fn }
}

// WithCredentialHeader sets where the authenticator is read from.
func WithCredentialHeader(name, scheme string) MiddlewareOption {
	return func(m *Middleware) {
		if name != "" {
			m.header = name
		}
		m.scheme = scheme
	}
}

// WithExpectedClaim sets the claim that carries the access token.
func WithExpectedClaim(name string) MiddlewareOption {
	return func(m *Middleware) {
		if name != "" {
			m.claimName = name
		}
	}
}

// WithRequiredHeaders rejects authenticators that do not bind all of names.
func WithRequiredHeaders(names ...string) MiddlewareOption {
	return func(m *Middleware) {
		m.requiredHeaders = m.requiredHeaders[:0]
		for _, n := range names {
			m.requiredHeaders = append(m.requiredHeaders, strings.ToLower(n))
		}
	}
}

// NewMiddleware returns a Middleware that verifies with v against trust.
func NewMiddleware(v *token.Verifier, trust TrustStore, opts ...MiddlewareOption) *Middleware {
	if v == nil {
		v = token.NewVerifier()
	}
	m := &Middleware{
		verifier:  v,
		trust:     trust,
		logger:    zap.NewNop(),
		header:    pop.DefaultHeader,
		scheme:    pop.DefaultScheme,
		claimName: pop.ClaimAccessToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Wrap only calls next for requests that carry a valid authenticator.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in pop middleware",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()

		compact, ok := m.credential(r)
		if !ok {
			m.fail(w, r, http.StatusUnauthorized, "pop.missing", "PoP authenticator required", nil)
			return
		}
		p, err := m.verifier.Parse(compact)
		if err != nil {
			m.fail(w, r, http.StatusUnauthorized, "pop.malformed", "malformed authenticator", err)
			return
		}

		if m.trust == nil {
			m.fail(w, r, http.StatusUnauthorized, "pop.unknown_key", "unknown signing certificate", nil)
			return
		}
		trusted, err := m.trust.Lookup(r.Context(), p.Header.X5T)
		if err != nil {
			m.logger.Error("trust lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if trusted == nil {
			m.fail(w, r, http.StatusUnauthorized, "pop.unknown_key", "unknown signing certificate", nil)
			return
		}

		var bound []string
		if p.Claims.Headers != nil {
			bound = p.Claims.Headers.Keys
		}
		for _, name := range m.requiredHeaders {
			if !slices.Contains(bound, name) {
				m.fail(w, r, http.StatusUnauthorized, "pop.invalid", "required header not bound: "+name, nil)
				return
			}
		}

		carried, _ := p.Claim(m.claimName)
		expected, err := request.FromHTTP(r, m.claimName, carried, bound...)
		if err != nil {
			m.fail(w, r, http.StatusBadRequest, "invalid_request", "invalid request", err)
			return
		}

		res, err := m.verifier.VerifyContext(r.Context(), compact, expected, trusted)
		switch {
		case errors.Is(err, pop.ErrMalformedToken):
			m.fail(w, r, http.StatusUnauthorized, "pop.malformed", "malformed authenticator", err)
			return
		case err != nil:
			m.logger.Error("pop verification failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable")
			return
		case !res.Valid:
			code := "pop.invalid"
			if errors.Is(res.Reason, pop.ErrReplay) {
				code = "pop.replay"
			}
			m.fail(w, r, http.StatusUnauthorized, code, "authenticator rejected", res.Reason)
			return
		}

		if m.validate != nil {
			if err := m.validate(r.Context(), res.Claims.Token); err != nil {
				m.fail(w, r, http.StatusUnauthorized, "pop.access_token", "access token rejected", err)
				return
			}
		}

		m.logger.Debug("pop authenticator accepted",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("x5t", trusted.X5T()))

		ctx := context.WithValue(r.Context(), claimsKey, res.Claims)
		ctx = context.WithValue(ctx, identityKey, trusted)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler adapts Wrap to the func(http.Handler) http.Handler shape chi and
// similar routers use.
func (m *Middleware) Handler(next http.Handler) http.Handler { return m.Wrap(next) }

func (m *Middleware) credential(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get(m.header))
	if v == "" {
		return "", false
	}
	if m.scheme == "" {
		return v, true
	}
	scheme, rest, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, m.scheme) {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

func (m *Middleware) fail(w http.ResponseWriter, r *http.Request, status int, code, msg string, reason error) {
	fields := []zap.Field{
		zap.String("code", code),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if reason != nil {
		fields = append(fields, zap.Error(reason))
	}
	m.logger.Warn("pop request rejected", fields...)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", m.challenge())
	}
	writeError(w, status, code, msg)
}

func (m *Middleware) challenge() string {
	if m.scheme == "" {
		return pop.DefaultScheme
	}
	return m.scheme
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: msg})
}
