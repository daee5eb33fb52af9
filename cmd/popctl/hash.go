package main

import (
	"encoding/json"
	"flag"
	"io"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
)

type hashOutput struct {
	Method  string          `json:"m"`
	Path    string          `json:"p#S256"`
	Query   canonical.Hash  `json:"q"`
	Headers *canonical.Hash `json:"h,omitempty"`
}

func runHash(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var req requestFlags
	req.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	desc, err := req.descriptor(pop.ClaimAccessToken)
	if err != nil {
		return err
	}
	h := canonical.NewHasher()
	out := hashOutput{
		Method: desc.Method(),
		Path:   h.Path(desc.Path()),
		Query:  h.Query(desc.Query()),
	}
	if headers := desc.Headers(); len(headers) > 0 {
		hh := h.Headers(headers)
		out.Headers = &hh
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
