package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
)

// SigningMethod signs and verifies precomputed digests for one JWS algorithm.
type SigningMethod interface {
	Alg() identity.Algorithm
	Sign(digest []byte, key crypto.Signer) ([]byte, error)
	Verify(digest, sig []byte, key crypto.PublicKey) error
}

var (
	SigningMethodRS256 = &signingMethodRSA{alg: identity.RS256}
	SigningMethodRS384 = &signingMethodRSA{alg: identity.RS384}
	SigningMethodRS512 = &signingMethodRSA{alg: identity.RS512}

	SigningMethodPS256 = &signingMethodPSS{alg: identity.PS256}
	SigningMethodPS384 = &signingMethodPSS{alg: identity.PS384}
	SigningMethodPS512 = &signingMethodPSS{alg: identity.PS512}

	SigningMethodES256 = &signingMethodECDSA{alg: identity.ES256}
	SigningMethodES384 = &signingMethodECDSA{alg: identity.ES384}
	SigningMethodES512 = &signingMethodECDSA{alg: identity.ES512}
)

// MethodFor returns the signing method for alg.
func MethodFor(alg identity.Algorithm) (SigningMethod, error) {
	switch alg {
	case identity.RS256:
		return SigningMethodRS256, nil
	case identity.RS384:
		return SigningMethodRS384, nil
	case identity.RS512:
		return SigningMethodRS512, nil
	case identity.PS256:
		return SigningMethodPS256, nil
	case identity.PS384:
		return SigningMethodPS384, nil
	case identity.PS512:
		return SigningMethodPS512, nil
	case identity.ES256:
		return SigningMethodES256, nil
	case identity.ES384:
		return SigningMethodES384, nil
	case identity.ES512:
		return SigningMethodES512, nil
	}
	return nil, fmt.Errorf("%w: no signing method for %q", pop.ErrAlgorithmMismatch, string(alg))
}

// RSASSA-PKCS1-v1_5. Deterministic.
type signingMethodRSA struct{ alg identity.Algorithm }

func (m *signingMethodRSA) Alg() identity.Algorithm { return m.alg }

func (m *signingMethodRSA) Sign(digest []byte, key crypto.Signer) ([]byte, error) {
	sig, err := key.Sign(rand.Reader, digest, m.alg.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %s sign: %v", pop.ErrKey, m.alg, err)
	}
	return sig, nil
}

func (m *signingMethodRSA) Verify(digest, sig []byte, key crypto.PublicKey) error {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: %s needs an RSA key", pop.ErrAlgorithmMismatch, m.alg)
	}
	if err := rsa.VerifyPKCS1v15(pub, m.alg.Hash(), digest, sig); err != nil {
		return pop.ErrSignatureInvalid
	}
	return nil
}

// RSASSA-PSS with the salt length equal to the hash size.
type signingMethodPSS struct{ alg identity.Algorithm }

func (m *signingMethodPSS) Alg() identity.Algorithm { return m.alg }

func (m *signingMethodPSS) Sign(digest []byte, key crypto.Signer) ([]byte, error) {
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: m.alg.Hash()}
	sig, err := key.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s sign: %v", pop.ErrKey, m.alg, err)
	}
	return sig, nil
}

func (m *signingMethodPSS) Verify(digest, sig []byte, key crypto.PublicKey) error {
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: %s needs an RSA key", pop.ErrAlgorithmMismatch, m.alg)
	}
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto}
	if err := rsa.VerifyPSS(pub, m.alg.Hash(), digest, sig, opts); err != nil {
		return pop.ErrSignatureInvalid
	}
	return nil
}

// ECDSA in the JWS fixed-width r||s form.
type signingMethodECDSA struct{ alg identity.Algorithm }

func (m *signingMethodECDSA) Alg() identity.Algorithm { return m.alg }

func (m *signingMethodECDSA) Sign(digest []byte, key crypto.Signer) ([]byte, error) {
	der, err := key.Sign(rand.Reader, digest, m.alg.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %s sign: %v", pop.ErrKey, m.alg, err)
	}
	return derToFixed(der, m.alg.CoordinateSize())
}

func (m *signingMethodECDSA) Verify(digest, sig []byte, key crypto.PublicKey) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: %s needs an ECDSA key", pop.ErrAlgorithmMismatch, m.alg)
	}
	size := m.alg.CoordinateSize()
	if len(sig) != 2*size {
		return pop.ErrSignatureInvalid
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return pop.ErrSignatureInvalid
	}
	return nil
}

// derToFixed converts an ASN.1 ECDSA-Sig-Value into r||s, each left-padded to size bytes.
func derToFixed(der []byte, size int) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, fmt.Errorf("%w: malformed ECDSA signature", pop.ErrKey)
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > size*8 || s.BitLen() > size*8 {
		return nil, fmt.Errorf("%w: ECDSA signature out of range", pop.ErrKey)
	}
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
