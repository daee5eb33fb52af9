// Command pop-keysplit splits a PEM private key into Shamir shares and
// recombines them, so that no single file holds the signing key.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/pop/identity"
)

const (
	version   = "1.0.0"
	maxShares = 255
)

type Config struct {
	Mode        string
	KeyFile     string
	CertFile    string
	OutDir      string
	OutFile     string
	Shares      []string
	Parts       int
	Threshold   int
	Backup      bool
	Verbose     bool
	ShowVersion bool
}

func main() {
	config, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Configuration error: %v", err)
	}

	if config.ShowVersion {
		fmt.Printf("pop-keysplit v%s\n", version)
		os.Exit(0)
	}

	if err := validateConfig(config); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := execute(config, os.Stdout); err != nil {
		log.Fatalf("%s failed: %v", config.Mode, err)
	}
}

func parseFlags(args []string, stderr io.Writer) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("pop-keysplit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&config.KeyFile, "key", "", "PEM private key to split")
	fs.StringVar(&config.KeyFile, "k", "", "PEM private key to split (shorthand)")
	fs.StringVar(&config.CertFile, "cert", "", "PEM certificate; checked against the recombined key")
	fs.StringVar(&config.OutDir, "out-dir", ".", "Directory for share files (split)")
	fs.StringVar(&config.OutFile, "out", "", "Recombined PEM key file (combine)")
	fs.StringVar(&config.OutFile, "o", "", "Recombined PEM key file (combine) (shorthand)")
	fs.IntVar(&config.Parts, "parts", 5, "Number of shares to produce")
	fs.IntVar(&config.Parts, "n", 5, "Number of shares to produce (shorthand)")
	fs.IntVar(&config.Threshold, "threshold", 3, "Shares required to recombine")
	fs.IntVar(&config.Threshold, "t", 3, "Shares required to recombine (shorthand)")
	fs.BoolVar(&config.Backup, "backup", true, "Back up an existing output file")
	noBackup := fs.Bool("no-backup", false, "Disable backup creation")
	fs.BoolVar(&config.Verbose, "verbose", true, "Enable verbose output")
	fs.BoolVar(&config.Verbose, "v", true, "Enable verbose output (shorthand)")
	fs.BoolVar(&config.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "pop-keysplit v%s - Split a signing key into Shamir shares\n\n", version)
		fmt.Fprintf(stderr, "USAGE:\n")
		fmt.Fprintf(stderr, "  pop-keysplit split -k <key.pem> [-n 5] [-t 3] [-out-dir dir]\n")
		fmt.Fprintf(stderr, "  pop-keysplit combine -o <key.pem> [-cert cert.pem] <share> <share> ...\n\n")
		fmt.Fprintf(stderr, "OPTIONS:\n")
		fs.PrintDefaults()
	}

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		config.Mode, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	config.Shares = fs.Args()
	if *noBackup {
		config.Backup = false
	}
	return config, nil
}

func validateConfig(config *Config) error {
	switch config.Mode {
	case "split":
		if config.KeyFile == "" {
			return fmt.Errorf("key file is required (-k flag)")
		}
		if config.Threshold < 2 {
			return fmt.Errorf("threshold must be at least 2")
		}
		if config.Parts < config.Threshold {
			return fmt.Errorf("parts (%d) must be at least the threshold (%d)", config.Parts, config.Threshold)
		}
		if config.Parts > maxShares {
			return fmt.Errorf("parts cannot exceed %d", maxShares)
		}
	case "combine":
		if config.OutFile == "" {
			return fmt.Errorf("output file is required (-o flag)")
		}
		if len(config.Shares) < 2 {
			return fmt.Errorf("at least two share files are required")
		}
	case "":
		return fmt.Errorf("mode is required (split or combine)")
	default:
		return fmt.Errorf("unknown mode %q (want split or combine)", config.Mode)
	}
	return nil
}

func execute(config *Config, stdout io.Writer) error {
	if config.Mode == "split" {
		return runSplit(config, stdout)
	}
	return runCombine(config, stdout)
}

func runSplit(config *Config, stdout io.Writer) error {
	keyPEM, err := os.ReadFile(config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	defer clear(keyPEM)

	shares, err := identity.SplitKey(keyPEM, config.Parts, config.Threshold)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.OutDir, 0o700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(config.KeyFile), filepath.Ext(config.KeyFile))
	for i, share := range shares {
		path := filepath.Join(config.OutDir, fmt.Sprintf("%s.share%d", base, i+1))
		if err := writeSecretFile(path, []byte(identity.EncodeShare(share)+"\n"), config.Backup); err != nil {
			return err
		}
		if config.Verbose {
			fmt.Fprintf(stdout, "✓ Wrote share %d/%d: %s\n", i+1, len(shares), path)
		}
	}
	if config.Verbose {
		fmt.Fprintf(stdout, "✓ Any %d of %d shares recombine the key\n", config.Threshold, config.Parts)
	}
	return nil
}

func runCombine(config *Config, stdout io.Writer) error {
	shares := make([][]byte, 0, len(config.Shares))
	for _, f := range config.Shares {
		raw, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read share: %w", err)
		}
		share, err := identity.DecodeShare(string(raw))
		if err != nil {
			return fmt.Errorf("share %s: %w", f, err)
		}
		shares = append(shares, share)
	}

	keyPEM, err := identity.CombineShares(shares)
	if err != nil {
		return err
	}
	defer clear(keyPEM)
	if _, err := identity.ParsePrivateKeyPEM(keyPEM); err != nil {
		return fmt.Errorf("shares do not recombine into a key: %w", err)
	}

	if config.CertFile != "" {
		certPEM, err := os.ReadFile(config.CertFile)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		id, err := identity.LoadPEM(certPEM, keyPEM)
		if err != nil {
			return err
		}
		if config.Verbose {
			fmt.Fprintf(stdout, "✓ Key matches certificate [alg=%s x5t=%s]\n", id.Algorithm(), id.X5T())
		}
	}

	if err := writeSecretFile(config.OutFile, keyPEM, config.Backup); err != nil {
		return err
	}
	if config.Verbose {
		fmt.Fprintf(stdout, "✓ Recombined key written to %s\n", config.OutFile)
	}
	return nil
}

func writeSecretFile(path string, data []byte, backup bool) error {
	if backup {
		if err := createBackup(path); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func createBackup(filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	backupPath := filePath + ".bak"
	if _, err := os.Stat(backupPath); err == nil {
		if err := os.Remove(backupPath); err != nil {
			return fmt.Errorf("failed to remove old backup: %w", err)
		}
	}

	sourceFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer destFile.Close()

	if _, err := destFile.ReadFrom(sourceFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return nil
}
