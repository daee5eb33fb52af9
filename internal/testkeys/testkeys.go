// Package testkeys generates throwaway keys and self-signed certificates for tests.
package testkeys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/pop/identity"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
	rsaErr  error
)

// RSA returns a 2048-bit key shared by every caller in the test binary.
func RSA(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	rsaOnce.Do(func() { rsaKey, rsaErr = rsa.GenerateKey(rand.Reader, 2048) })
	if rsaErr != nil {
		tb.Fatalf("generate rsa key: %v", rsaErr)
	}
	return rsaKey
}

// ECDSA returns a fresh key on curve.
func ECDSA(tb testing.TB, curve elliptic.Curve) *ecdsa.PrivateKey {
	tb.Helper()
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		tb.Fatalf("generate ecdsa key: %v", err)
	}
	return k
}

// Certificate self-signs a certificate for key.
func Certificate(tb testing.TB, key crypto.Signer) *x509.Certificate {
	tb.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "pop-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		tb.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parse certificate: %v", err)
	}
	return cert
}

// Identity builds a signing identity for key with a self-signed certificate.
func Identity(tb testing.TB, key crypto.Signer, opts ...identity.Option) *identity.Identity {
	tb.Helper()
	id, err := identity.New(key, append([]identity.Option{identity.WithCertificate(Certificate(tb, key))}, opts...)...)
	if err != nil {
		tb.Fatalf("new identity: %v", err)
	}
	return id
}
