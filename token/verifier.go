package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/replay"
	"github.com/oarkflow/pop/request"
)

const (
	// DefaultFreshnessWindow is how old ts may be.
	DefaultFreshnessWindow = 5 * time.Minute
	// DefaultClockSkew is how far ts may lie in the future.
	DefaultClockSkew = 1 * time.Minute
)

// NonceStore records nonces. Record reports false when nonce was seen before.
type NonceStore interface {
	Record(ctx context.Context, nonce string) (bool, error)
}

// VerificationResult is the outcome of a verification that got past parsing.
// Reason wraps one of pop.ErrSignatureInvalid, pop.ErrClaimMismatch,
// pop.ErrTokenExpired or pop.ErrReplay when Valid is false.
type VerificationResult struct {
	Valid  bool
	Reason error
	Claims *Claims
}

// Verifier checks authenticators against the request they claim to sign. It is
// safe for concurrent use.
type Verifier struct {
	freshness    time.Duration
	skew         time.Duration
	maxSize      int
	nonces       NonceStore
	requireNonce bool
	nowFn        func() time.Time
	logger       *zap.Logger
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithFreshnessWindow sets how old ts may be.
func WithFreshnessWindow(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.freshness = d
		}
	}
}

// WithClockSkew sets how far in the future ts may be.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d >= 0 {
			v.skew = d
		}
	}
}

// WithMaxTokenSize bounds the compact token length.
func WithMaxTokenSize(n int) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.maxSize = n
		}
	}
}

// WithReplayCache records every nonce and rejects repeats.
func WithReplayCache(store NonceStore) VerifierOption {
	return func(v *Verifier) { v.nonces = store }
}

// WithRequireNonce rejects authenticators that carry no nonce.
func WithRequireNonce(require bool) VerifierOption {
	return func(v *Verifier) { v.requireNonce = require }
}

// WithVerifierNow injects a deterministic clock source (useful for tests).
func WithVerifierNow(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.nowFn = fn
		}
	}
}

// WithLogger logs rejected authenticators at warn level.
func WithLogger(logger *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier returns a Verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		freshness: DefaultFreshnessWindow,
		skew:      DefaultClockSkew,
		maxSize:   DefaultMaxTokenSize,
		nowFn:     defaultNow,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Parse decodes compact under the verifier's size limit without verifying it.
func (v *Verifier) Parse(compact string) (*Parsed, error) {
	return parse(compact, v.maxSize)
}

// Verify is VerifyContext with a background context.
func (v *Verifier) Verify(compact string, expected *request.Descriptor, trusted *identity.Identity) (*VerificationResult, error) {
	return v.VerifyContext(context.Background(), compact, expected, trusted)
}

// VerifyContext checks compact against the expected request and the trusted
// identity. Expected mismatches are reported in the result; an error means the
// token could not be parsed (pop.ErrMalformedToken), the arguments were
// unusable, or the replay cache failed.
//
// Checks run in order: header, claims, signature, freshness, replay. The
// algorithm and thumbprint always come from trusted, never from the token.
func (v *Verifier) VerifyContext(ctx context.Context, compact string, expected *request.Descriptor, trusted *identity.Identity) (*VerificationResult, error) {
	if err := expected.Validate(); err != nil {
		return nil, err
	}
	engine, err := NewFreshEngine(trusted)
	if err != nil {
		return nil, err
	}
	p, err := v.Parse(compact)
	if err != nil {
		v.logger.Debug("rejected malformed pop token",
			zap.String("method", expected.Method()),
			zap.String("path", expected.Path()),
			zap.Error(err))
		return nil, err
	}
	res := &VerificationResult{Claims: &p.Claims}

	if err := checkHeader(&p.Header, trusted); err != nil {
		return v.reject(res, expected, err), nil
	}
	if err := compareClaims(p, expected, engine.Hasher()); err != nil {
		return v.reject(res, expected, err), nil
	}
	if !engine.Verify([]byte(p.SigningInput), p.Signature) {
		return v.reject(res, expected, pop.ErrSignatureInvalid), nil
	}
	if err := v.checkTimestamp(p.Claims.Timestamp); err != nil {
		return v.reject(res, expected, err), nil
	}

	switch nonce := p.Claims.Nonce; {
	case nonce == "" && v.requireNonce:
		return v.reject(res, expected, fmt.Errorf("%w: nonce required", pop.ErrReplay)), nil
	case nonce != "" && v.nonces != nil:
		fresh, err := v.nonces.Record(ctx, nonce)
		if errors.Is(err, replay.ErrInvalidNonce) {
			return v.reject(res, expected, fmt.Errorf("%w: %v", pop.ErrReplay, err)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("record nonce: %w", err)
		}
		if !fresh {
			return v.reject(res, expected, pop.ErrReplay), nil
		}
	}

	res.Valid = true
	return res, nil
}

func (v *Verifier) reject(res *VerificationResult, expected *request.Descriptor, reason error) *VerificationResult {
	res.Valid = false
	res.Reason = reason
	v.logger.Warn("pop token rejected",
		zap.String("method", expected.Method()),
		zap.String("path", expected.Path()),
		zap.Error(reason))
	return res
}

func checkHeader(h *Header, trusted *identity.Identity) error {
	ok := eq(h.Typ, pop.TypeJWT) &
		eq(h.Alg, string(trusted.Algorithm())) &
		eq(h.X5T, trusted.X5T())
	if ok != 1 {
		return fmt.Errorf("%w: header does not name the trusted algorithm and certificate", pop.ErrSignatureInvalid)
	}
	return nil
}

// compareClaims evaluates every claim before deciding so the time taken does
// not depend on which one differs.
func compareClaims(p *Parsed, expected *request.Descriptor, hasher *canonical.Hasher) error {
	var mismatched []string
	check := func(name string, ok int) {
		if ok != 1 {
			mismatched = append(mismatched, name)
		}
	}

	token, found := p.Claim(expected.ClaimName())
	tokenOK := eq(token, expected.Token())
	if !found {
		tokenOK = 0
	} else {
		p.Claims.ClaimName, p.Claims.Token = expected.ClaimName(), token
	}
	check(expected.ClaimName(), tokenOK)
	check(pop.ClaimMethod, eq(p.Claims.Method, expected.Method()))
	check(pop.ClaimPathHash, eq(p.Claims.PathHash, hasher.Path(expected.Path())))
	check(pop.ClaimQueryHash, eq(p.Claims.QueryHash, hasher.Query(expected.Query()).Digest))

	want := expected.Headers()
	switch got := p.Claims.Headers; {
	case got != nil:
		h := hasher.Headers(want)
		check(pop.ClaimHeaders, eq(strings.Join(got.Keys, "\n"), strings.Join(h.Keys, "\n"))&eq(got.Digest, h.Digest))
	case len(want) > 0:
		check(pop.ClaimHeaders, 0)
	}

	if len(mismatched) > 0 {
		return fmt.Errorf("%w: %s", pop.ErrClaimMismatch, strings.Join(mismatched, ", "))
	}
	return nil
}

func (v *Verifier) checkTimestamp(ts int64) error {
	now := v.nowFn()
	issued := time.Unix(ts, 0)
	if issued.Before(now.Add(-v.freshness)) {
		return fmt.Errorf("%w: issued %s ago", pop.ErrTokenExpired, now.Sub(issued).Truncate(time.Second))
	}
	if issued.After(now.Add(v.skew)) {
		return fmt.Errorf("%w: issued %s in the future", pop.ErrTokenExpired, issued.Sub(now).Truncate(time.Second))
	}
	return nil
}

func eq(a, b string) int {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b))
}

// IsVerificationFailure reports whether err is one of the reasons a
// VerificationResult carries.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, pop.ErrSignatureInvalid) ||
		errors.Is(err, pop.ErrClaimMismatch) ||
		errors.Is(err, pop.ErrTokenExpired) ||
		errors.Is(err, pop.ErrReplay)
}
