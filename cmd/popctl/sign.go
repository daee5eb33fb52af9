package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/atotto/clipboard"

	"github.com/oarkflow/pop/token"
)

var (
	defaultClipboardWrite = clipboard.WriteAll
	// clipboardWrite is swapped out in tests.
	clipboardWrite = defaultClipboardWrite
)

func runSign(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	var req requestFlags
	var nonce, copyOut, verbose bool
	common.register(fs)
	req.register(fs)
	fs.BoolVar(&nonce, "nonce", false, "Add a random nonce claim")
	fs.BoolVar(&copyOut, "copy", false, "Copy the authenticator to the clipboard")
	fs.BoolVar(&copyOut, "c", false, "Copy the authenticator to the clipboard (shorthand)")
	fs.BoolVar(&verbose, "v", false, "Print progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
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

	opts := cfg.BuilderOptions()
	if nonce {
		opts = append(opts, token.WithNonce())
	}
	authn, err := token.Build(id, desc, opts...)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if copyOut {
		if err := clipboardWrite(authn); err != nil {
			fmt.Fprintf(stderr, "Warning: Unable to copy authenticator to clipboard: %v\n", err)
		} else if verbose {
			fmt.Fprintln(stderr, "✓ Authenticator copied to clipboard")
		}
	}
	if verbose {
		fmt.Fprintf(stderr, "✓ Signed %s with %s [x5t=%s len=%d]\n", desc, id.Algorithm(), id.X5T(), len(authn))
	}
	fmt.Fprintln(stdout, authn)
	return nil
}
