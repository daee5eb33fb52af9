// Package identity holds the key material an authenticator is signed with: a
// private key (or only its public half on the verifying side), the signature
// algorithm, its digest and the SHA-1 thumbprint of the signing certificate.
//
// An Identity is immutable once built and may be shared across goroutines.
package identity

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/oarkflow/pop"
)

// Identity is a signing (or verify-only) identity.
type Identity struct {
	signer     crypto.Signer
	public     crypto.PublicKey
	alg        Algorithm
	digest     crypto.Hash
	cert       *x509.Certificate
	thumbprint []byte
	x5t        string
}

type options struct {
	alg        Algorithm
	digest     crypto.Hash
	cert       *x509.Certificate
	thumbprint []byte
}

// Option configures New and NewPublic.
type Option func(*options)

// WithAlgorithm selects the signature algorithm. When omitted it is derived from the key.
func WithAlgorithm(a Algorithm) Option {
	return func(o *options) { o.alg = a }
}

// WithDigest pins the digest algorithm. It must equal the signature algorithm's hash.
func WithDigest(h crypto.Hash) Option {
	return func(o *options) { o.digest = h }
}

// WithCertificate attaches the signing certificate; its SHA-1 thumbprint becomes x5t.
func WithCertificate(cert *x509.Certificate) Option {
	return func(o *options) { o.cert = cert }
}

// WithThumbprint sets the certificate thumbprint directly, for callers that
// only know the thumbprint of a certificate held elsewhere.
func WithThumbprint(tp []byte) Option {
	return func(o *options) { o.thumbprint = bytes.Clone(tp) }
}

// New builds a signing identity around signer.
func New(signer crypto.Signer, opts ...Option) (*Identity, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: no private key", pop.ErrKey)
	}
	return build(signer, signer.Public(), opts)
}

// NewPublic builds a verify-only identity around a public key.
func NewPublic(pub crypto.PublicKey, opts ...Option) (*Identity, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: no public key", pop.ErrKey)
	}
	return build(nil, pub, opts)
}

// FromCertificate builds a verify-only identity from a certificate.
func FromCertificate(cert *x509.Certificate, opts ...Option) (*Identity, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate", pop.ErrKey)
	}
	return NewPublic(cert.PublicKey, append([]Option{WithCertificate(cert)}, opts...)...)
}

func build(signer crypto.Signer, pub crypto.PublicKey, opts []Option) (*Identity, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	alg := o.alg
	if alg == "" {
		var err error
		if alg, err = DefaultAlgorithm(pub); err != nil {
			return nil, err
		}
	}
	if err := alg.CheckKey(pub); err != nil {
		return nil, err
	}
	if o.digest != 0 && o.digest != alg.Hash() {
		return nil, fmt.Errorf("%w: %s signs %s digests, not %s", pop.ErrAlgorithmMismatch, alg, alg.Hash(), o.digest)
	}

	thumb := o.thumbprint
	if o.cert != nil {
		if !publicKeysEqual(o.cert.PublicKey, pub) {
			return nil, fmt.Errorf("%w: certificate public key does not match the key", pop.ErrKey)
		}
		sum := sha1.Sum(o.cert.Raw)
		if thumb != nil && !bytes.Equal(thumb, sum[:]) {
			return nil, fmt.Errorf("%w: thumbprint does not match certificate", pop.ErrKey)
		}
		thumb = sum[:]
	}
	if len(thumb) == 0 {
		return nil, fmt.Errorf("%w: certificate or thumbprint required", pop.ErrKey)
	}
	if len(thumb) != sha1.Size {
		return nil, fmt.Errorf("%w: thumbprint is %d bytes, want %d", pop.ErrKey, len(thumb), sha1.Size)
	}

	return &Identity{
		signer:     signer,
		public:     pub,
		alg:        alg,
		digest:     alg.Hash(),
		cert:       o.cert,
		thumbprint: thumb,
		x5t:        base64.RawURLEncoding.EncodeToString(thumb),
	}, nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch k := a.(type) {
	case *rsa.PublicKey:
		return k.Equal(b)
	case *ecdsa.PublicKey:
		return k.Equal(b)
	}
	return false
}

func (id *Identity) Algorithm() Algorithm { return id.alg }
func (id *Identity) Digest() crypto.Hash { return id.digest }
func (id *Identity) Signer() crypto.Signer { return id.signer }
func (id *Identity) PublicKey() crypto.PublicKey { return id.public }
func (id *Identity) Certificate() *x509.Certificate { return id.cert }

// CanSign reports whether the identity holds a private key.
func (id *Identity) CanSign() bool { return id.signer != nil }

// Thumbprint returns a copy of the certificate thumbprint.
func (id *Identity) Thumbprint() []byte { return bytes.Clone(id.thumbprint) }

// X5T returns the base64url thumbprint carried in the token header.
func (id *Identity) X5T() string { return id.x5t }

// Public returns a verify-only copy of id.
func (id *Identity) Public() *Identity {
	cp := *id
	cp.signer = nil
	return &cp
}

// Equal reports whether two identities verify the same signatures.
func (id *Identity) Equal(other *Identity) bool {
	if id == other {
		return true
	}
	if id == nil || other == nil {
		return false
	}
	return id.alg == other.alg &&
		bytes.Equal(id.thumbprint, other.thumbprint) &&
		publicKeysEqual(id.public, other.public)
}

// PublicJWK returns the verification key as a JWK carrying the certificate
// chain and thumbprints.
func (id *Identity) PublicJWK() jose.JSONWebKey {
	jwk := jose.JSONWebKey{
		Key:                       id.public,
		KeyID:                     id.x5t,
		Algorithm:                 string(id.alg),
		Use:                       "sig",
		CertificateThumbprintSHA1: bytes.Clone(id.thumbprint),
	}
	if id.cert != nil {
		sum := sha256.Sum256(id.cert.Raw)
		jwk.Certificates = []*x509.Certificate{id.cert}
		jwk.CertificateThumbprintSHA256 = sum[:]
	}
	return jwk
}
