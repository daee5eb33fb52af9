// Package pop builds and verifies Proof-of-Possession authenticators that bind
// an access token to a single HTTP request.
//
// The subpackages do the work: canonical hashes request components, identity
// holds the signing key and certificate thumbprint, request describes the HTTP
// request being bound, and token assembles, signs and verifies the compact
// header.payload.signature string. This package holds the error taxonomy and
// the names shared across them.
package pop

import (
	"errors"
)

// Version of the authenticator format produced by this module.
const Version = "1"

// Token type and claim names used in the compact authenticator.
const (
	TypeJWT = "JWT"

	ClaimAccessToken = "at"
	ClaimTimestamp   = "ts"
	ClaimMethod      = "m"
	ClaimPathHash    = "p#S256"
	ClaimQueryHash   = "q#S256"
	ClaimHeaders     = "h"
	ClaimNonce       = "nonce"
)

// Default HTTP transport of an authenticator: "Authorization: PoP <token>".
const (
	DefaultHeader = "Authorization"
	DefaultScheme = "PoP"
)

// Building failures. These are deterministic for a given input and are never retried.
var (
	// ErrInvalidRequest indicates the request descriptor is missing its method or path
	// or carries an unparsable query.
	ErrInvalidRequest = errors.New("invalid request descriptor")

	// ErrKey indicates the private key is absent or cannot be used for signing.
	ErrKey = errors.New("signing key unavailable")

	// ErrAlgorithmMismatch indicates the signature/digest algorithm pair is not
	// supported by the key type.
	ErrAlgorithmMismatch = errors.New("algorithm not supported by key")
)

// Verification failures. Only ErrMalformedToken is returned as an error by the
// verifier; the others are reported through the verification result.
var (
	// ErrMalformedToken indicates the token has the wrong segment count, bad
	// base64url, unparsable JSON or missing required claims.
	ErrMalformedToken = errors.New("token is malformed")

	// ErrClaimMismatch indicates the token's method, path, query, header or carried
	// token claims disagree with the presented request.
	ErrClaimMismatch = errors.New("token claims do not match request")

	// ErrSignatureInvalid is returned when the signature is invalid for the signing input
	// or the header names a different algorithm or certificate.
	ErrSignatureInvalid = errors.New("invalid token signature")

	// ErrTokenExpired indicates ts lies outside the allowed freshness window.
	ErrTokenExpired = errors.New("token timestamp outside freshness window")

	// ErrReplay indicates the token's nonce has already been seen.
	ErrReplay = errors.New("token replay detected")
)
