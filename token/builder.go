package token

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/request"
)

// Builder assembles and signs authenticators. It is safe for concurrent use;
// the engine passed to Build follows its own concurrency rules.
type Builder struct {
	nowFn       func() time.Time
	nonceFn     func() string
	bindHeaders bool

	// encoded protected headers keyed by alg + "." + x5t
	headers sync.Map
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithBuilderNow injects a deterministic clock source (useful for tests).
func WithBuilderNow(fn func() time.Time) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.nowFn = fn
		}
	}
}

// WithNonce adds a random "nonce" claim to every authenticator.
func WithNonce() BuilderOption {
	return func(b *Builder) { b.nonceFn = NewNonce }
}

// WithNonceSource adds a "nonce" claim produced by fn.
func WithNonceSource(fn func() string) BuilderOption {
	return func(b *Builder) { b.nonceFn = fn }
}

// WithHeaderBinding always emits the "h" claim, even when the request binds no
// headers. Without it "h" appears only for requests that carry a header subset.
func WithHeaderBinding() BuilderOption {
	return func(b *Builder) { b.bindHeaders = true }
}

func defaultNow() time.Time { return time.Now().UTC() }

// NewNonce returns a random UUID without dashes.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewBuilder returns a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.nowFn == nil {
		b.nowFn = defaultNow
	}
	return b
}

// Build signs req for id with engine and returns the compact authenticator.
// Nothing is returned on failure.
func (b *Builder) Build(id *identity.Identity, req *request.Descriptor, engine SignatureEngine) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if id == nil {
		return "", fmt.Errorf("%w: nil identity", pop.ErrKey)
	}
	if engine == nil {
		return "", fmt.Errorf("%w: nil engine", pop.ErrKey)
	}
	if !engine.Identity().Equal(id) {
		return "", fmt.Errorf("%w: engine is bound to a different identity", pop.ErrKey)
	}

	claims := b.claims(req, engine)

	buf := acquireBuffer()
	defer buf.Release()
	payload := appendPayload(buf.Bytes(), &claims)

	header := b.encodedHeader(id)
	enc := base64.RawURLEncoding
	in := acquireBuffer()
	defer in.Release()
	input := append(in.Bytes(), header...)
	input = append(input, '.')
	input = enc.AppendEncode(input, payload)
	buf.buf, in.buf = payload, input

	sig, err := engine.Sign(input)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(len(input) + 1 + enc.EncodedLen(len(sig)))
	sb.Write(input)
	sb.WriteByte('.')
	sb.WriteString(enc.EncodeToString(sig))
	return sb.String(), nil
}

func (b *Builder) claims(req *request.Descriptor, engine SignatureEngine) Claims {
	hasher := engine.Hasher()
	c := Claims{
		ClaimName: req.ClaimName(),
		Token:     req.Token(),
		Timestamp: b.nowFn().Unix(),
		Method:    req.Method(),
		PathHash:  hasher.Path(req.Path()),
		QueryHash: hasher.Query(req.Query()).Digest,
	}
	if headers := req.Headers(); len(headers) > 0 || b.bindHeaders {
		h := hasher.Headers(headers)
		c.Headers = &h
	}
	if b.nonceFn != nil {
		c.Nonce = b.nonceFn()
	}
	return c
}

func (b *Builder) encodedHeader(id *identity.Identity) string {
	key := headerCacheKey(id)
	if v, ok := b.headers.Load(key); ok {
		return v.(string)
	}
	h := encodeHeader(id)
	b.headers.Store(key, h)
	return h
}

// headerCacheKey identifies the protected header content, so reloading the
// same key and certificate reuses one entry.
func headerCacheKey(id *identity.Identity) string {
	return string(id.Algorithm()) + "." + id.X5T()
}

// Build signs req for id with a fresh engine.
func Build(id *identity.Identity, req *request.Descriptor, opts ...BuilderOption) (string, error) {
	engine, err := NewFreshEngine(id)
	if err != nil {
		return "", err
	}
	return NewBuilder(opts...).Build(id, req, engine)
}
