package token_test

import (
	"crypto/elliptic"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/internal/testkeys"
	"github.com/oarkflow/pop/request"
	"github.com/oarkflow/pop/token"
)

func interopIdentities(t *testing.T) map[string]*identity.Identity {
	return map[string]*identity.Identity{
		"RS256": testkeys.Identity(t, testkeys.RSA(t)),
		"PS256": testkeys.Identity(t, testkeys.RSA(t), identity.WithAlgorithm(identity.PS256)),
		"ES256": testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P256())),
		"ES384": testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P384())),
	}
}

func TestTokensVerifyWithGoJose(t *testing.T) {
	req := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ")
	for name, id := range interopIdentities(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := token.Build(id, req, token.WithNonce())
			require.NoError(t, err)

			jws, err := jose.ParseSigned(tok, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(id.Algorithm())})
			require.NoError(t, err)
			payload, err := jws.Verify(id.PublicKey())
			require.NoError(t, err)

			var claims map[string]any
			require.NoError(t, json.Unmarshal(payload, &claims))
			assert.Equal(t, "XYZ", claims["at"])
			assert.Equal(t, "GET", claims["m"])

			jwk := id.PublicJWK()
			_, err = jws.Verify(&jwk)
			assert.NoError(t, err)
		})
	}
}

func TestTokensParseAsJWT(t *testing.T) {
	req := request.MustNew("POST", "/orders", "x=1").WithToken("opaque")
	for name, id := range interopIdentities(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := token.Build(id, req)
			require.NoError(t, err)

			parsed, err := jwt.Parse(tok, func(tk *jwt.Token) (any, error) {
				assert.Equal(t, id.X5T(), tk.Header["x5t"])
				return id.PublicKey(), nil
			}, jwt.WithValidMethods([]string{name}))
			require.NoError(t, err)
			assert.True(t, parsed.Valid)

			claims, ok := parsed.Claims.(jwt.MapClaims)
			require.True(t, ok)
			assert.Equal(t, "opaque", claims["at"])
			assert.Equal(t, "POST", claims["m"])
		})
	}
}
