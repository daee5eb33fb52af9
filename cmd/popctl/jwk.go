package main

import (
	"encoding/json"
	"flag"
	"io"
)

func runJWK(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("jwk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
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
	jwk := id.PublicJWK()
	raw, err := json.MarshalIndent(&jwk, "", "  ")
	if err != nil {
		return err
	}
	_, err = stdout.Write(append(raw, '\n'))
	return err
}
