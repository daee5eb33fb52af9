package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/oarkflow/pop"
)

// Algorithm is a JWS signature algorithm name as it appears in the "alg" header.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
)

// MinRSABits is the smallest RSA modulus accepted for signing or verification.
const MinRSABits = 2048

// Family groups algorithms by signature scheme.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyRSAPKCS1
	FamilyRSAPSS
	FamilyECDSA
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{RS256, RS384, RS512, PS256, PS384, PS512, ES256, ES384, ES512}
}

// ParseAlgorithm accepts an algorithm name in any case.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	if a.Family() == FamilyUnknown {
		return "", fmt.Errorf("%w: unknown algorithm %q", pop.ErrAlgorithmMismatch, s)
	}
	return a, nil
}

func (a Algorithm) String() string { return string(a) }

// Family reports the signature scheme of a.
func (a Algorithm) Family() Family {
	switch a {
	case RS256, RS384, RS512:
		return FamilyRSAPKCS1
	case PS256, PS384, PS512:
		return FamilyRSAPSS
	case ES256, ES384, ES512:
		return FamilyECDSA
	}
	return FamilyUnknown
}

// Hash returns the digest algorithm paired with a, or 0 for an unknown algorithm.
func (a Algorithm) Hash() crypto.Hash {
	switch a {
	case RS256, PS256, ES256:
		return crypto.SHA256
	case RS384, PS384, ES384:
		return crypto.SHA384
	case RS512, PS512, ES512:
		return crypto.SHA512
	}
	return 0
}

// curve returns the curve an ECDSA algorithm requires.
func (a Algorithm) curve() elliptic.Curve {
	switch a {
	case ES256:
		return elliptic.P256()
	case ES384:
		return elliptic.P384()
	case ES512:
		return elliptic.P521()
	}
	return nil
}

// CheckKey reports whether pub can be used with a.
func (a Algorithm) CheckKey(pub crypto.PublicKey) error {
	switch a.Family() {
	case FamilyRSAPKCS1, FamilyRSAPSS:
		k, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an RSA key, got %T", pop.ErrAlgorithmMismatch, a, pub)
		}
		if k.N.BitLen() < MinRSABits {
			return fmt.Errorf("%w: RSA key is %d bits, need at least %d", pop.ErrKey, k.N.BitLen(), MinRSABits)
		}
		return nil
	case FamilyECDSA:
		k, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an ECDSA key, got %T", pop.ErrAlgorithmMismatch, a, pub)
		}
		if k.Curve != a.curve() {
			return fmt.Errorf("%w: %s requires curve %s, got %s", pop.ErrAlgorithmMismatch, a, a.curve().Params().Name, k.Curve.Params().Name)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown algorithm %q", pop.ErrAlgorithmMismatch, string(a))
}

// DefaultAlgorithm picks the algorithm for a key type: RS256 for RSA and the
// curve-matched ES algorithm for ECDSA.
func DefaultAlgorithm(pub crypto.PublicKey) (Algorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return RS256, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return ES256, nil
		case elliptic.P384():
			return ES384, nil
		case elliptic.P521():
			return ES512, nil
		}
		return "", fmt.Errorf("%w: unsupported curve %s", pop.ErrAlgorithmMismatch, k.Curve.Params().Name)
	}
	return "", fmt.Errorf("%w: unsupported key type %T", pop.ErrAlgorithmMismatch, pub)
}

// CoordinateSize is the byte length of one ECDSA coordinate for a, or 0 for
// non-ECDSA algorithms.
func (a Algorithm) CoordinateSize() int {
	if c := a.curve(); c != nil {
		return (c.Params().BitSize + 7) / 8
	}
	return 0
}
