// Command popctl signs, verifies and inspects PoP authenticators.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/config"
	"github.com/oarkflow/pop/request"
)

const version = "1.0.0"

// errRejected makes popctl exit with status 1 without printing an error.
var errRejected = errors.New("authenticator rejected")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintf(os.Stderr, "popctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "sign":
		return runSign(rest, stdout, stderr)
	case "verify":
		return runVerify(rest, stdout, stderr)
	case "hash":
		return runHash(rest, stdout, stderr)
	case "jwk":
		return runJWK(rest, stdout, stderr)
	case "serve":
		return runServe(rest, stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "popctl v%s (pop format %s)\n", version, pop.Version)
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "popctl v%s - Proof-of-Possession request authenticators\n\n", version)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "  popctl <command> [options]\n\n")
	fmt.Fprintf(w, "COMMANDS:\n")
	fmt.Fprintf(w, "  sign     Sign a request and print the authenticator\n")
	fmt.Fprintf(w, "  verify   Verify an authenticator against a request\n")
	fmt.Fprintf(w, "  hash     Print the canonical path, query and header hashes\n")
	fmt.Fprintf(w, "  jwk      Print the identity's public JWK\n")
	fmt.Fprintf(w, "  serve    Run an HTTP server that only accepts signed requests\n\n")
	fmt.Fprintf(w, "EXAMPLES:\n")
	fmt.Fprintf(w, "  popctl sign -cert cert.pem -key key.pem -token $AT -url 'https://api/b/c?d=e'\n")
	fmt.Fprintf(w, "  popctl verify -cert cert.pem -token $AT -url 'https://api/b/c?d=e' -pop $POP\n")
	fmt.Fprintf(w, "  popctl serve -config pop.yaml -addr :8080\n")
}

// commonFlags are shared by the commands that need an identity.
type commonFlags struct {
	configPath string
	envFiles   string
	cert       string
	key        string
	pkcs12     string
	pkcs12Env  string
	algorithm  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&c.envFiles, "env", ".env", "Comma separated .env files to load")
	fs.StringVar(&c.cert, "cert", "", "PEM certificate (overrides config identity)")
	fs.StringVar(&c.key, "key", "", "PEM private key")
	fs.StringVar(&c.pkcs12, "p12", "", "PKCS#12 file (overrides config identity)")
	fs.StringVar(&c.pkcs12Env, "p12-pass-env", "", "Environment variable holding the PKCS#12 password")
	fs.StringVar(&c.algorithm, "alg", "", "Signing algorithm (RS256, PS256, ES256, ...)")
}

func (c *commonFlags) load() (*config.Config, error) {
	var files []string
	for _, f := range strings.Split(c.envFiles, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	if err := config.LoadEnvFiles(files...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.cert != "" || c.pkcs12 != "" {
		cfg.Identity = config.IdentityConfig{
			CertFile:          c.cert,
			KeyFile:           c.key,
			PKCS12File:        c.pkcs12,
			PKCS12PasswordEnv: c.pkcs12Env,
			Algorithm:         cfg.Identity.Algorithm,
		}
	}
	if c.algorithm != "" {
		cfg.Identity.Algorithm = c.algorithm
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// headerList collects repeated -H "Name: value" flags.
type headerList []string

func (h *headerList) String() string { return strings.Join(*h, ", ") }

func (h *headerList) Set(v string) error {
	name, _, ok := strings.Cut(v, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header %q is not in \"Name: value\" form", v)
	}
	*h = append(*h, v)
	return nil
}

// requestFlags describe the HTTP request being signed or verified.
type requestFlags struct {
	method    string
	rawURL    string
	token     string
	claimName string
	headers   headerList
}

func (r *requestFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.method, "method", http.MethodGet, "HTTP method")
	fs.StringVar(&r.method, "X", http.MethodGet, "HTTP method (shorthand)")
	fs.StringVar(&r.rawURL, "url", "", "Request URL or path with query")
	fs.StringVar(&r.token, "token", "", "Access token carried in the authenticator")
	fs.StringVar(&r.claimName, "claim", "", "Claim carrying the access token (default from config)")
	fs.Var(&r.headers, "H", "Bound header \"Name: value\" (repeatable, order is significant)")
}

func (r *requestFlags) descriptor(defaultClaim string) (*request.Descriptor, error) {
	if r.rawURL == "" {
		return nil, errors.New("-url is required")
	}
	u, err := url.Parse(r.rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pop.ErrInvalidRequest, err)
	}
	req := &http.Request{Method: strings.ToUpper(r.method), URL: u, Header: http.Header{}}
	names := make([]string, 0, len(r.headers))
	for _, h := range r.headers {
		name, value, _ := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		req.Header.Add(name, strings.TrimSpace(value))
		names = append(names, name)
	}
	claim := r.claimName
	if claim == "" {
		claim = defaultClaim
	}
	return request.FromHTTP(req, claim, r.token, names...)
}
