package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oarkflow/pop/token"
)

type verifyOutput struct {
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason,omitempty"`
	Claims *token.Claims `json:"claims,omitempty"`
}

func runVerify(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	var req requestFlags
	var authn, authnFile string
	common.register(fs)
	req.register(fs)
	fs.StringVar(&authn, "pop", "", "Authenticator to verify")
	fs.StringVar(&authnFile, "pop-file", "", "File holding the authenticator (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if authn == "" {
		if authnFile == "" {
			return errors.New("-pop or -pop-file is required")
		}
		raw, err := readInput(authnFile)
		if err != nil {
			return err
		}
		authn = strings.TrimSpace(string(raw))
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	id, err := cfg.LoadIdentity()
	if err != nil {
		return err
	}
	desc, err := req.descriptor(cfg.Token.ClaimName)
	if err != nil {
		return err
	}

	res, err := cfg.NewVerifier(nil, nil).Verify(authn, desc, id.Public())
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	out := verifyOutput{Valid: res.Valid, Claims: res.Claims}
	if res.Reason != nil {
		out.Reason = res.Reason.Error()
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !res.Valid {
		return errRejected
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
