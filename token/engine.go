package token

import (
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/request"
)

// SignatureEngine digests, signs and verifies bytes for one identity.
//
// Two implementations produce identical results for identical input:
// FreshEngine builds its hash and canonicalization state on every call and is
// safe for concurrent use; ReusableEngine keeps that state for its whole life
// and must be confined to one goroutine at a time (EnginePool hands them out).
type SignatureEngine interface {
	Identity() *identity.Identity
	Hasher() *canonical.Hasher
	Digest(data []byte) []byte
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) bool
}

var errEngineClosed = errors.New("engine closed")

// FreshEngine acquires a new provider per call.
type FreshEngine struct {
	id     *identity.Identity
	method SigningMethod
}

// NewFreshEngine returns an engine for id that is safe for concurrent use.
func NewFreshEngine(id *identity.Identity) (*FreshEngine, error) {
	method, err := engineMethod(id)
	if err != nil {
		return nil, err
	}
	return &FreshEngine{id: id, method: method}, nil
}

func (e *FreshEngine) Identity() *identity.Identity { return e.id }

// Hasher returns a new canonical hasher; callers own it.
func (e *FreshEngine) Hasher() *canonical.Hasher { return canonical.NewHasher() }

func (e *FreshEngine) Digest(data []byte) []byte {
	h := e.id.Digest().New()
	h.Write(data)
	return h.Sum(nil)
}

func (e *FreshEngine) Sign(data []byte) ([]byte, error) {
	if !e.id.CanSign() {
		return nil, fmt.Errorf("%w: identity has no private key", pop.ErrKey)
	}
	digest := e.Digest(data)
	defer clear(digest)
	return e.method.Sign(digest, e.id.Signer())
}

func (e *FreshEngine) Verify(data, sig []byte) bool {
	digest := e.Digest(data)
	defer clear(digest)
	return e.method.Verify(digest, sig, e.id.PublicKey()) == nil
}

// ReusableEngine owns one digest provider and one canonical hasher until Close.
// It is not safe for concurrent use.
type ReusableEngine struct {
	id      *identity.Identity
	method  SigningMethod
	h       hash.Hash
	hasher  *canonical.Hasher
	scratch []byte
	closed  bool
}

// NewReusableEngine returns a thread-confined engine for id.
func NewReusableEngine(id *identity.Identity) (*ReusableEngine, error) {
	method, err := engineMethod(id)
	if err != nil {
		return nil, err
	}
	h := id.Digest().New()
	return &ReusableEngine{
		id:      id,
		method:  method,
		h:       h,
		hasher:  canonical.NewHasher(),
		scratch: make([]byte, 0, h.Size()),
	}, nil
}

func (e *ReusableEngine) Identity() *identity.Identity { return e.id }

// Hasher returns the engine's own hasher. It is reused across calls.
func (e *ReusableEngine) Hasher() *canonical.Hasher { return e.hasher }

func (e *ReusableEngine) Digest(data []byte) []byte {
	return append([]byte(nil), e.digest(data)...)
}

func (e *ReusableEngine) digest(data []byte) []byte {
	e.h.Reset()
	e.h.Write(data)
	e.scratch = e.h.Sum(e.scratch[:0])
	return e.scratch
}

func (e *ReusableEngine) Sign(data []byte) ([]byte, error) {
	if e.closed {
		return nil, fmt.Errorf("%w: %v", pop.ErrKey, errEngineClosed)
	}
	if !e.id.CanSign() {
		return nil, fmt.Errorf("%w: identity has no private key", pop.ErrKey)
	}
	digest := e.digest(data)
	defer clear(digest)
	return e.method.Sign(digest, e.id.Signer())
}

func (e *ReusableEngine) Verify(data, sig []byte) bool {
	if e.closed {
		return false
	}
	digest := e.digest(data)
	defer clear(digest)
	return e.method.Verify(digest, sig, e.id.PublicKey()) == nil
}

// Close zeroes the engine's scratch state. A closed engine refuses to sign.
func (e *ReusableEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	clear(e.scratch[:cap(e.scratch)])
	e.h.Reset()
	e.hasher.Reset()
	return nil
}

// reset wipes per-use state before an engine goes back to a pool.
func (e *ReusableEngine) reset() {
	clear(e.scratch[:cap(e.scratch)])
	e.hasher.Reset()
}

// EnginePool hands out ReusableEngines for one identity with a checkout/checkin
// discipline: Get an engine, use it from one goroutine, Put it back. The pool
// itself is safe for concurrent use.
type EnginePool struct {
	id   *identity.Identity
	pool sync.Pool
}

// NewEnginePool returns a pool of engines for id.
func NewEnginePool(id *identity.Identity) (*EnginePool, error) {
	if _, err := engineMethod(id); err != nil {
		return nil, err
	}
	p := &EnginePool{id: id}
	p.pool.New = func() any {
		e, _ := NewReusableEngine(id)
		return e
	}
	return p, nil
}

func (p *EnginePool) Identity() *identity.Identity { return p.id }

// Get checks an engine out of the pool.
func (p *EnginePool) Get() *ReusableEngine {
	return p.pool.Get().(*ReusableEngine)
}

// Put checks e back in. Closed engines and engines of another identity are dropped.
func (p *EnginePool) Put(e *ReusableEngine) {
	if e == nil || e.closed || e.id != p.id {
		return
	}
	e.reset()
	p.pool.Put(e)
}

// Do runs fn with a checked-out engine and checks it back in, even if fn panics.
func (p *EnginePool) Do(fn func(SignatureEngine) error) error {
	e := p.Get()
	defer p.Put(e)
	return fn(e)
}

// Build signs req with a pooled engine.
func (p *EnginePool) Build(b *Builder, req *request.Descriptor) (string, error) {
	var out string
	err := p.Do(func(e SignatureEngine) error {
		var err error
		out, err = b.Build(p.id, req, e)
		return err
	})
	return out, err
}

func engineMethod(id *identity.Identity) (SigningMethod, error) {
	if id == nil {
		return nil, fmt.Errorf("%w: nil identity", pop.ErrKey)
	}
	return MethodFor(id.Algorithm())
}
