package main

import (
	"bytes"
	"crypto/elliptic"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/internal/testkeys"
)

func TestSplitThenCombine(t *testing.T) {
	dir := t.TempDir()
	key := testkeys.ECDSA(t, elliptic.P256())
	keyPEM, err := identity.EncodePrivateKeyPEM(key)
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "signing.pem")
	certFile := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(certFile, identity.EncodeCertificatePEM(testkeys.Certificate(t, key)), 0o600))

	var stderr bytes.Buffer
	cfg, err := parseFlags([]string{"split", "-k", keyFile, "-n", "5", "-t", "3", "-out-dir", filepath.Join(dir, "shares")}, &stderr)
	require.NoError(t, err)
	require.NoError(t, validateConfig(cfg))
	var out bytes.Buffer
	require.NoError(t, execute(cfg, &out))
	assert.Contains(t, out.String(), "Any 3 of 5 shares")

	shareFiles, err := filepath.Glob(filepath.Join(dir, "shares", "signing.share*"))
	require.NoError(t, err)
	require.Len(t, shareFiles, 5)

	outFile := filepath.Join(dir, "recombined.pem")
	args := []string{"combine", "-o", outFile, "-cert", certFile, shareFiles[0], shareFiles[2], shareFiles[4]}
	cfg, err = parseFlags(args, &stderr)
	require.NoError(t, err)
	require.NoError(t, validateConfig(cfg))
	out.Reset()
	require.NoError(t, execute(cfg, &out))
	assert.Contains(t, out.String(), "Key matches certificate")

	got, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)

	// A second combine keeps the previous output as a backup.
	require.NoError(t, execute(cfg, &out))
	_, err = os.Stat(outFile + ".bak")
	assert.NoError(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := map[string][]string{
		"no mode":             {"-k", "key.pem"},
		"unknown mode":        {"shuffle"},
		"split without key":   {"split"},
		"threshold too small": {"split", "-k", "key.pem", "-t", "1"},
		"parts below":         {"split", "-k", "key.pem", "-n", "2", "-t", "3"},
		"too many parts":      {"split", "-k", "key.pem", "-n", "300"},
		"combine without out": {"combine", "a", "b"},
		"combine one share":   {"combine", "-o", "key.pem", "a"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := parseFlags(args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestCombineRejectsBadShares(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("zz-not-hex"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("0102"), 0o600))

	cfg := &Config{Mode: "combine", OutFile: filepath.Join(dir, "out.pem"), Shares: []string{a, b}}
	assert.Error(t, execute(cfg, &bytes.Buffer{}))
	_, err := os.Stat(cfg.OutFile)
	assert.True(t, os.IsNotExist(err))
}

func TestNoBackupFlag(t *testing.T) {
	cfg, err := parseFlags([]string{"split", "-k", "k.pem", "-no-backup"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, cfg.Backup)
}
