package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
	"github.com/oarkflow/pop/identity"
)

// DefaultMaxTokenSize bounds the compact token accepted by Parse.
const DefaultMaxTokenSize = 16 << 10

// Header is the protected header of an authenticator.
type Header struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
	X5T string `json:"x5t"`
}

// Claims is the payload of an authenticator.
type Claims struct {
	// ClaimName is the payload key carrying Token, "at" unless configured otherwise.
	ClaimName string `json:"claim_name"`
	Token     string `json:"token"`
	Timestamp int64  `json:"ts"`
	Method    string `json:"m"`
	PathHash  string `json:"p#S256"`
	QueryHash string `json:"q#S256"`
	// Headers is set when the authenticator binds request headers.
	Headers *canonical.Hash `json:"h,omitempty"`
	Nonce   string          `json:"nonce,omitempty"`
}

// Parsed is a decoded but unverified authenticator.
type Parsed struct {
	Header       Header
	Claims       Claims
	SigningInput string
	Signature    []byte

	fields map[string]json.RawMessage
}

// Claim returns the string value of payload key name.
func (p *Parsed) Claim(name string) (string, bool) {
	raw, ok := p.fields[name]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// EncodeBase64URL returns raw URL-safe base64 encoding.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes one unpadded URL-safe base64 segment.
func DecodeBase64URL(data string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pop.ErrMalformedToken, err)
	}
	return raw, nil
}

// encodeHeader renders and base64url-encodes the protected header for id.
func encodeHeader(id *identity.Identity) string {
	b := make([]byte, 0, 64)
	b = append(b, `{"typ":`...)
	b = appendJSONString(b, pop.TypeJWT)
	b = append(b, `,"alg":`...)
	b = appendJSONString(b, string(id.Algorithm()))
	b = append(b, `,"x5t":`...)
	b = appendJSONString(b, id.X5T())
	b = append(b, '}')
	return EncodeBase64URL(b)
}

// appendPayload is the one serializer for payloads. Field order is fixed:
// carried token, ts, m, p#S256, q#S256, then h and nonce when present.
func appendPayload(b []byte, c *Claims) []byte {
	b = append(b, '{')
	b = appendJSONString(b, c.ClaimName)
	b = append(b, ':')
	b = appendJSONString(b, c.Token)
	b = append(b, `,"`+pop.ClaimTimestamp+`":`...)
	b = strconv.AppendInt(b, c.Timestamp, 10)
	b = append(b, `,"`+pop.ClaimMethod+`":`...)
	b = appendJSONString(b, c.Method)
	b = append(b, `,"`+pop.ClaimPathHash+`":`...)
	b = appendJSONString(b, c.PathHash)
	b = append(b, `,"`+pop.ClaimQueryHash+`":`...)
	b = appendJSONString(b, c.QueryHash)
	if c.Headers != nil {
		b = append(b, `,"`+pop.ClaimHeaders+`":[[`...)
		for i, k := range c.Headers.Keys {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendJSONString(b, k)
		}
		b = append(b, "],"...)
		b = appendJSONString(b, c.Headers.Digest)
		b = append(b, ']')
	}
	if c.Nonce != "" {
		b = append(b, `,"`+pop.ClaimNonce+`":`...)
		b = appendJSONString(b, c.Nonce)
	}
	return append(b, '}')
}

const hexDigits = "0123456789abcdef"

// appendJSONString appends s as a JSON string, escaping like encoding/json
// with HTML escaping on.
func appendJSONString(b []byte, s string) []byte {
	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' && c != '<' && c != '>' && c != '&' {
				i++
				continue
			}
			b = append(b, s[start:i]...)
			switch c {
			case '"', '\\':
				b = append(b, '\\', c)
			case '\b':
				b = append(b, '\\', 'b')
			case '\f':
				b = append(b, '\\', 'f')
			case '\n':
				b = append(b, '\\', 'n')
			case '\r':
				b = append(b, '\\', 'r')
			case '\t':
				b = append(b, '\\', 't')
			default:
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b = append(b, s[start:i]...)
			b = append(b, `\ufffd`...)
			i += size
			start = i
			continue
		}
		if r == '\u2028' || r == '\u2029' {
			b = append(b, s[start:i]...)
			b = append(b, '\\', 'u', '2', '0', '2', hexDigits[r&0xF])
			i += size
			start = i
			continue
		}
		i += size
	}
	b = append(b, s[start:]...)
	return append(b, '"')
}

// Parse decodes an authenticator without verifying it. Every failure wraps
// pop.ErrMalformedToken.
func Parse(compact string) (*Parsed, error) {
	return parse(compact, DefaultMaxTokenSize)
}

func parse(compact string, maxSize int) (*Parsed, error) {
	if len(compact) > maxSize {
		return nil, fmt.Errorf("%w: token exceeds %d bytes", pop.ErrMalformedToken, maxSize)
	}
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", pop.ErrMalformedToken, len(parts))
	}
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment", pop.ErrMalformedToken)
		}
	}
	headerJSON, err := DecodeBase64URL(parts[0])
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	payloadJSON, err := DecodeBase64URL(parts[1])
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	sig, err := DecodeBase64URL(parts[2])
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	p := &Parsed{
		SigningInput: compact[:len(parts[0])+1+len(parts[1])],
		Signature:    sig,
	}
	if err := json.Unmarshal(headerJSON, &p.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", pop.ErrMalformedToken, err)
	}
	if err := json.Unmarshal(payloadJSON, &p.fields); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", pop.ErrMalformedToken, err)
	}
	if err := p.decodeClaims(); err != nil {
		return nil, err
	}
	return p, nil
}

var knownClaims = map[string]bool{
	pop.ClaimTimestamp: true,
	pop.ClaimMethod:    true,
	pop.ClaimPathHash:  true,
	pop.ClaimQueryHash: true,
	pop.ClaimHeaders:   true,
	pop.ClaimNonce:     true,
}

func (p *Parsed) decodeClaims() error {
	c := &p.Claims
	if err := requireField(p.fields, pop.ClaimTimestamp, &c.Timestamp); err != nil {
		return err
	}
	if err := requireField(p.fields, pop.ClaimMethod, &c.Method); err != nil {
		return err
	}
	if err := requireField(p.fields, pop.ClaimPathHash, &c.PathHash); err != nil {
		return err
	}
	if err := requireField(p.fields, pop.ClaimQueryHash, &c.QueryHash); err != nil {
		return err
	}
	if raw, ok := p.fields[pop.ClaimHeaders]; ok {
		var h canonical.Hash
		if err := json.Unmarshal(raw, &h); err != nil {
			return fmt.Errorf("%w: claim %q: %v", pop.ErrMalformedToken, pop.ClaimHeaders, err)
		}
		c.Headers = &h
	}
	if raw, ok := p.fields[pop.ClaimNonce]; ok {
		if err := json.Unmarshal(raw, &c.Nonce); err != nil {
			return fmt.Errorf("%w: claim %q: %v", pop.ErrMalformedToken, pop.ClaimNonce, err)
		}
	}

	// The carried token is whichever single string claim is not a known one.
	for name := range p.fields {
		if knownClaims[name] {
			continue
		}
		v, ok := p.Claim(name)
		if !ok {
			continue
		}
		if c.ClaimName != "" {
			c.ClaimName, c.Token = "", ""
			break
		}
		c.ClaimName, c.Token = name, v
	}
	return nil
}

func requireField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok {
		return fmt.Errorf("%w: missing claim %q", pop.ErrMalformedToken, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: claim %q: %v", pop.ErrMalformedToken, name, err)
	}
	return nil
}
