package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/oarkflow/pop"
)

// LoadPKCS12 decodes a PFX/PKCS#12 bundle holding one private key and its certificate.
func LoadPKCS12(data []byte, password string, opts ...Option) (*Identity, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pkcs12: %v", pop.ErrKey, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: pkcs12 key of type %T cannot sign", pop.ErrKey, key)
	}
	return New(signer, append([]Option{WithCertificate(cert)}, opts...)...)
}

// LoadPKCS12File reads and decodes a PKCS#12 file.
func LoadPKCS12File(path, password string, opts ...Option) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pkcs12 file: %w", err)
	}
	return LoadPKCS12(data, password, opts...)
}

// LoadPEM builds a signing identity from a PEM certificate and a PEM private key.
func LoadPEM(certPEM, keyPEM []byte, opts ...Option) (*Identity, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	signer, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return New(signer, append([]Option{WithCertificate(cert)}, opts...)...)
}

// LoadPEMFiles reads a certificate and key from disk. An empty keyFile yields a
// verify-only identity.
func LoadPEMFiles(certFile, keyFile string, opts ...Option) (*Identity, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	if keyFile == "" {
		cert, err := ParseCertificatePEM(certPEM)
		if err != nil {
			return nil, err
		}
		return FromCertificate(cert, opts...)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return LoadPEM(certPEM, keyPEM, opts...)
}

// ParseCertificatePEM returns the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no CERTIFICATE block found", pop.ErrKey)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse certificate: %v", pop.ErrKey, err)
		}
		return cert, nil
	}
}

// ParsePrivateKeyPEM returns the first private key in data. PKCS#8, PKCS#1 and
// SEC 1 encodings are accepted.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no private key block found", pop.ErrKey)
		}
		switch block.Type {
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse pkcs8 key: %v", pop.ErrKey, err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("%w: pkcs8 key of type %T cannot sign", pop.ErrKey, key)
			}
			return signer, nil
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse pkcs1 key: %v", pop.ErrKey, err)
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse ec key: %v", pop.ErrKey, err)
			}
			return key, nil
		}
	}
}

// EncodePrivateKeyPEM renders an RSA or ECDSA key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, fmt.Errorf("%w: cannot encode key of type %T", pop.ErrKey, key)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal pkcs8: %v", pop.ErrKey, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodeCertificatePEM renders a certificate as a PEM block.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
