// Package canonical turns request components into deterministic digests.
//
// Query parameters and headers are hashed in the order the caller gives them.
// Nothing is sorted: the caller's order is the canonical order, so both sides of
// an exchange must agree on it (normally the request's own order).
package canonical

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"net/url"
	"strings"
)

// Param is one name/value pair.
type Param struct {
	Name  string
	Value string
}

// Params is an ordered list of name/value pairs.
type Params []Param

// Names returns the parameter names in order.
func (p Params) Names() []string {
	names := make([]string, len(p))
	for i, kv := range p {
		names[i] = kv.Name
	}
	return names
}

// Clone returns a copy that shares no memory with p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return append(Params(nil), p...)
}

// Hash is the result of a canonicalization: the included keys in insertion
// order and the base64url (unpadded) SHA-256 digest.
type Hash struct {
	Keys   []string
	Digest string
}

// MarshalJSON renders the two-element array [keys, digest].
func (h Hash) MarshalJSON() ([]byte, error) {
	keys := h.Keys
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal([]any{keys, h.Digest})
}

// UnmarshalJSON reads the two-element array [keys, digest].
func (h *Hash) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("canonical hash: expected 2 elements, got %d", len(parts))
	}
	var keys []string
	if err := json.Unmarshal(parts[0], &keys); err != nil {
		return fmt.Errorf("canonical hash keys: %w", err)
	}
	var digest string
	if err := json.Unmarshal(parts[1], &digest); err != nil {
		return fmt.Errorf("canonical hash digest: %w", err)
	}
	h.Keys = keys
	h.Digest = digest
	return nil
}

// Object renders the hash under a single-letter key, e.g. {"q":[["a"],"..."]}.
func (h Hash) Object(key string) ([]byte, error) {
	return json.Marshal(map[string]Hash{key: h})
}

// Hasher is a reusable SHA-256 provider. It is not safe for concurrent use;
// use one per goroutine or the package-level functions.
type Hasher struct {
	h   hash.Hash
	buf []byte
	sum [sha256.Size]byte
}

// NewHasher returns a Hasher ready for use.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New(), buf: make([]byte, 0, 256)}
}

// Path hashes a path directly: UTF-8 bytes, SHA-256, base64url.
func (c *Hasher) Path(path string) string {
	c.buf = append(c.buf[:0], path...)
	return c.digest()
}

// Query hashes parameters as URL-encoded key=value pairs joined with "&".
func (c *Hasher) Query(params Params) Hash {
	buf := c.buf[:0]
	keys := make([]string, 0, len(params))
	for i, p := range params {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, Escape(p.Name)...)
		buf = append(buf, '=')
		buf = append(buf, Escape(p.Value)...)
		keys = append(keys, p.Name)
	}
	c.buf = buf
	return Hash{Keys: keys, Digest: c.digest()}
}

// Headers hashes headers as "name: value" lines joined with "\n", names lower-cased.
func (c *Hasher) Headers(headers Params) Hash {
	buf := c.buf[:0]
	keys := make([]string, 0, len(headers))
	for i, p := range headers {
		name := strings.ToLower(p.Name)
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, name...)
		buf = append(buf, ':', ' ')
		buf = append(buf, p.Value...)
		keys = append(keys, name)
	}
	c.buf = buf
	return Hash{Keys: keys, Digest: c.digest()}
}

// Reset zeroes the scratch buffer.
func (c *Hasher) Reset() {
	clear(c.buf[:cap(c.buf)])
	c.buf = c.buf[:0]
	c.h.Reset()
}

func (c *Hasher) digest() string {
	c.h.Reset()
	c.h.Write(c.buf)
	sum := c.h.Sum(c.sum[:0])
	return base64.RawURLEncoding.EncodeToString(sum)
}

// Escape URL-encodes a query key or value the way Query does before hashing.
func Escape(s string) string {
	return url.QueryEscape(s)
}

// PathHash hashes path with a fresh Hasher.
func PathHash(path string) string {
	return NewHasher().Path(path)
}

// QueryHash hashes params with a fresh Hasher.
func QueryHash(params Params) Hash {
	return NewHasher().Query(params)
}

// HeaderHash hashes headers with a fresh Hasher.
func HeaderHash(headers Params) Hash {
	return NewHasher().Headers(headers)
}

// ParseQuery parses a raw query string keeping parameter order. A leading "?"
// is ignored, empty segments are skipped and a key without "=" gets an empty value.
func ParseQuery(raw string) (Params, error) {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return Params{}, nil
	}
	params := make(Params, 0, strings.Count(raw, "&")+1)
	for part := range strings.SplitSeq(raw, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		n, err := url.QueryUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("query key %q: %w", name, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("query value for %q: %w", n, err)
		}
		params = append(params, Param{Name: n, Value: v})
	}
	return params, nil
}
