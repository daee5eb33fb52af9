// Package request describes the HTTP request an authenticator is bound to.
package request

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
)

// Descriptor is an immutable, validated view of a request. The With methods
// return modified copies.
type Descriptor struct {
	method    string
	path      string
	rawQuery  string
	query     canonical.Params
	headers   canonical.Params
	token     string
	claimName string
}

// New validates and normalizes the parts of a request. The method is
// upper-cased, a trailing "/" is stripped from every path but the root, and a
// leading "?" is stripped from the query.
func New(method, path, rawQuery string) (*Descriptor, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, fmt.Errorf("%w: empty method", pop.ErrInvalidRequest)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", pop.ErrInvalidRequest)
	}
	rawQuery = strings.TrimPrefix(rawQuery, "?")
	query, err := canonical.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pop.ErrInvalidRequest, err)
	}
	return &Descriptor{
		method:    method,
		path:      NormalizePath(path),
		rawQuery:  rawQuery,
		query:     query,
		claimName: pop.ClaimAccessToken,
	}, nil
}

// MustNew is New that panics on error, for literals in tests and examples.
func MustNew(method, path, rawQuery string) *Descriptor {
	d, err := New(method, path, rawQuery)
	if err != nil {
		panic(err)
	}
	return d
}

// FromHTTP describes r. The named headers are bound in the order given; absent
// headers are skipped.
func FromHTTP(r *http.Request, claimName, token string, headerNames ...string) (*Descriptor, error) {
	if r == nil || r.URL == nil {
		return nil, fmt.Errorf("%w: nil request", pop.ErrInvalidRequest)
	}
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	d, err := New(method, path, r.URL.RawQuery)
	if err != nil {
		return nil, err
	}
	d = d.WithToken(token)
	if claimName != "" {
		d = d.WithClaimName(claimName)
	}
	if len(headerNames) > 0 {
		headers := make(canonical.Params, 0, len(headerNames))
		for _, name := range headerNames {
			if v := r.Header.Values(name); len(v) > 0 {
				headers = append(headers, canonical.Param{Name: name, Value: strings.Join(v, ", ")})
			}
		}
		d = d.WithHeaders(headers)
	}
	return d, nil
}

// NormalizePath strips a single trailing "/" unless the path is the root.
func NormalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

func (d *Descriptor) Method() string { return d.method }
func (d *Descriptor) Path() string { return d.path }
func (d *Descriptor) RawQuery() string { return d.rawQuery }
func (d *Descriptor) Token() string { return d.token }
func (d *Descriptor) ClaimName() string { return d.claimName }

// Query returns a copy of the ordered query parameters.
func (d *Descriptor) Query() canonical.Params { return d.query.Clone() }

// Headers returns a copy of the bound header subset, names lower-cased.
func (d *Descriptor) Headers() canonical.Params { return d.headers.Clone() }

// WithToken returns a copy carrying token.
func (d *Descriptor) WithToken(token string) *Descriptor {
	cp := d.clone()
	cp.token = token
	return cp
}

// WithClaimName returns a copy that carries its token under name. Validate
// rejects a name that collides with a fixed payload claim.
func (d *Descriptor) WithClaimName(name string) *Descriptor {
	cp := d.clone()
	cp.claimName = name
	return cp
}

// WithMethod returns a copy with a different method.
func (d *Descriptor) WithMethod(method string) *Descriptor {
	cp := d.clone()
	cp.method = strings.ToUpper(method)
	return cp
}

// WithPath returns a copy with a different path.
func (d *Descriptor) WithPath(path string) *Descriptor {
	cp := d.clone()
	cp.path = NormalizePath(path)
	return cp
}

// WithQuery returns a copy with the given ordered query parameters.
func (d *Descriptor) WithQuery(params canonical.Params) *Descriptor {
	cp := d.clone()
	cp.query = params.Clone()
	cp.rawQuery = encodeQuery(params)
	return cp
}

// WithHeaders returns a copy binding the given headers in order.
func (d *Descriptor) WithHeaders(headers canonical.Params) *Descriptor {
	cp := d.clone()
	cp.headers = make(canonical.Params, len(headers))
	for i, h := range headers {
		cp.headers[i] = canonical.Param{Name: strings.ToLower(h.Name), Value: h.Value}
	}
	return cp
}

// Validate reports whether d can be signed.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", pop.ErrInvalidRequest)
	}
	if d.method == "" {
		return fmt.Errorf("%w: empty method", pop.ErrInvalidRequest)
	}
	if d.path == "" {
		return fmt.Errorf("%w: empty path", pop.ErrInvalidRequest)
	}
	if d.claimName == "" {
		return fmt.Errorf("%w: empty claim name", pop.ErrInvalidRequest)
	}
	if ReservedClaimName(d.claimName) {
		return fmt.Errorf("%w: claim name %q is reserved", pop.ErrInvalidRequest, d.claimName)
	}
	return nil
}

// ReservedClaimName reports whether name is one of the fixed payload claims
// and so cannot carry the access token.
func ReservedClaimName(name string) bool {
	switch name {
	case pop.ClaimTimestamp, pop.ClaimMethod, pop.ClaimPathHash, pop.ClaimQueryHash,
		pop.ClaimHeaders, pop.ClaimNonce:
		return true
	}
	return false
}

func (d *Descriptor) String() string {
	if d.rawQuery == "" {
		return d.method + " " + d.path
	}
	return d.method + " " + d.path + "?" + d.rawQuery
}

func (d *Descriptor) clone() *Descriptor {
	cp := *d
	cp.query = d.query.Clone()
	cp.headers = d.headers.Clone()
	return &cp
}

func encodeQuery(params canonical.Params) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(canonical.Escape(p.Name))
		b.WriteByte('=')
		b.WriteString(canonical.Escape(p.Value))
	}
	return b.String()
}
