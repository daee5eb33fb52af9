package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/oarkflow/shamir"

	"github.com/oarkflow/pop"
)

// SplitKey splits a PEM private key into parts Shamir shares, any threshold of
// which recombine into the original key.
func SplitKey(keyPEM []byte, parts, threshold int) ([][]byte, error) {
	if _, err := ParsePrivateKeyPEM(keyPEM); err != nil {
		return nil, err
	}
	if threshold < 2 || parts < threshold {
		return nil, fmt.Errorf("%w: need 2 <= threshold <= parts, got %d of %d", pop.ErrKey, threshold, parts)
	}
	shares, err := shamir.Split(keyPEM, threshold, parts)
	if err != nil {
		return nil, fmt.Errorf("%w: split key: %v", pop.ErrKey, err)
	}
	if len(shares) != parts {
		return nil, fmt.Errorf("%w: split key: got %d shares, want %d", pop.ErrKey, len(shares), parts)
	}
	return shares, nil
}

// CombineShares recombines Shamir shares into the PEM private key they were split from.
func CombineShares(shares [][]byte) ([]byte, error) {
	keyPEM, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: combine shares: %v", pop.ErrKey, err)
	}
	if _, err := ParsePrivateKeyPEM(keyPEM); err != nil {
		return nil, fmt.Errorf("%w: shares do not recombine into a private key", pop.ErrKey)
	}
	return keyPEM, nil
}

// LoadShares recombines key shares and pairs the key with a PEM certificate.
func LoadShares(certPEM []byte, shares [][]byte, opts ...Option) (*Identity, error) {
	keyPEM, err := CombineShares(shares)
	if err != nil {
		return nil, err
	}
	defer clear(keyPEM)
	return LoadPEM(certPEM, keyPEM, opts...)
}

// EncodeShare renders a share as the hex text stored in share files.
func EncodeShare(share []byte) string {
	return hex.EncodeToString(share)
}

// DecodeShare parses the hex text of a share file.
func DecodeShare(text string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: decode share: %v", pop.ErrKey, err)
	}
	return b, nil
}

// LoadShareFiles reads hex-encoded share files and calls LoadShares.
func LoadShareFiles(certFile string, shareFiles []string, opts ...Option) (*Identity, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	shares := make([][]byte, 0, len(shareFiles))
	for _, f := range shareFiles {
		text, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read share %s: %w", f, err)
		}
		b, err := DecodeShare(string(text))
		if err != nil {
			return nil, fmt.Errorf("share %s: %w", f, err)
		}
		shares = append(shares, b)
	}
	return LoadShares(certPEM, shares, opts...)
}
