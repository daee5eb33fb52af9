// Package pophttp carries PoP authenticators over HTTP: a client transport
// that signs outgoing requests and a server middleware that verifies them.
package pophttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/request"
	"github.com/oarkflow/pop/token"
)

// TokenSource returns the access token to bind to the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// Transport signs every request it sends. It is safe for concurrent use.
type Transport struct {
	base      http.RoundTripper
	pool      *token.EnginePool
	builder   *token.Builder
	source    TokenSource
	header    string
	scheme    string
	claimName string
	bind      []string
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithBase sets the transport that sends the signed request.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithBuilder replaces the default Builder, e.g. to add nonces.
func WithBuilder(b *token.Builder) TransportOption {
	return func(t *Transport) {
		if b != nil {
			t.builder = b
		}
	}
}

// WithHeader sets the header name and scheme of the authenticator.
func WithHeader(name, scheme string) TransportOption {
	return func(t *Transport) {
		if name != "" {
			t.header = name
		}
		t.scheme = scheme
	}
}

// WithClaimName sets the claim that carries the access token.
func WithClaimName(name string) TransportOption {
	return func(t *Transport) {
		if name != "" {
			t.claimName = name
		}
	}
}

// WithBoundHeaders signs the named request headers, in that order.
func WithBoundHeaders(names ...string) TransportOption {
	return func(t *Transport) { t.bind = append([]string(nil), names...) }
}

// NewTransport returns a Transport that signs with the pool's identity.
func NewTransport(pool *token.EnginePool, source TokenSource, opts ...TransportOption) (*Transport, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil engine pool", pop.ErrKey)
	}
	if source == nil {
		return nil, errors.New("pophttp: nil token source")
	}
	t := &Transport{
		base:      http.DefaultTransport,
		pool:      pool,
		builder:   token.NewBuilder(),
		source:    source,
		header:    pop.DefaultHeader,
		scheme:    pop.DefaultScheme,
		claimName: pop.ClaimAccessToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Client returns an *http.Client that uses t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip signs a clone of req and sends it with the base transport.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	authn, err := t.sign(req)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	signed := req.Clone(req.Context())
	signed.Header.Set(t.header, formatCredential(t.scheme, authn))
	return t.base.RoundTrip(signed)
}

func (t *Transport) sign(req *http.Request) (string, error) {
	tok, err := t.source(req.Context())
	if err != nil {
		return "", fmt.Errorf("pophttp: token source: %w", err)
	}
	desc, err := request.FromHTTP(req, t.claimName, tok, t.bind...)
	if err != nil {
		return "", err
	}
	return t.pool.Build(t.builder, desc)
}

func formatCredential(scheme, authn string) string {
	if scheme == "" {
		return authn
	}
	return scheme + " " + authn
}
