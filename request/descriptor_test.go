package request_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/canonical"
	"github.com/oarkflow/pop/request"
)

func TestNewNormalizes(t *testing.T) {
	d, err := request.New("get", "/b/c/", "?d=e&f=g+h")
	require.NoError(t, err)

	assert.Equal(t, "GET", d.Method())
	assert.Equal(t, "/b/c", d.Path())
	assert.Equal(t, "d=e&f=g+h", d.RawQuery())
	assert.Equal(t, canonical.Params{{Name: "d", Value: "e"}, {Name: "f", Value: "g h"}}, d.Query())
	assert.Equal(t, pop.ClaimAccessToken, d.ClaimName())
	assert.Equal(t, "GET /b/c?d=e&f=g+h", d.String())
}

func TestRootPathKept(t *testing.T) {
	d, err := request.New("GET", "/", "")
	require.NoError(t, err)
	assert.Equal(t, "/", d.Path())
	assert.Empty(t, d.Query())
}

func TestNewRejectsInvalid(t *testing.T) {
	_, err := request.New("", "/a", "")
	assert.ErrorIs(t, err, pop.ErrInvalidRequest)

	_, err = request.New("GET", "", "")
	assert.ErrorIs(t, err, pop.ErrInvalidRequest)

	_, err = request.New("GET", "/a", "x=%zz")
	assert.ErrorIs(t, err, pop.ErrInvalidRequest)

	var nilDesc *request.Descriptor
	assert.ErrorIs(t, nilDesc.Validate(), pop.ErrInvalidRequest)
}

func TestReservedClaimNames(t *testing.T) {
	for _, name := range []string{
		pop.ClaimTimestamp, pop.ClaimMethod, pop.ClaimPathHash,
		pop.ClaimQueryHash, pop.ClaimHeaders, pop.ClaimNonce,
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, request.ReservedClaimName(name))
			d := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ").WithClaimName(name)
			assert.ErrorIs(t, d.Validate(), pop.ErrInvalidRequest)
		})
	}
	for _, name := range []string{pop.ClaimAccessToken, "PFT", "Nonce"} {
		assert.False(t, request.ReservedClaimName(name), name)
		d := request.MustNew("GET", "/b/c", "").WithClaimName(name)
		assert.NoError(t, d.Validate())
	}
}

func TestWithReturnsCopies(t *testing.T) {
	orig := request.MustNew("GET", "/a", "x=1")
	changed := orig.
		WithMethod("post").
		WithPath("/z/").
		WithToken("XYZ").
		WithClaimName("PFT").
		WithQuery(canonical.Params{{Name: "y", Value: "a b"}}).
		WithHeaders(canonical.Params{{Name: "Content-Type", Value: "text/plain"}})

	assert.Equal(t, "GET", orig.Method())
	assert.Equal(t, "/a", orig.Path())
	assert.Empty(t, orig.Token())
	assert.Equal(t, "at", orig.ClaimName())
	assert.Empty(t, orig.Headers())

	assert.Equal(t, "POST", changed.Method())
	assert.Equal(t, "/z", changed.Path())
	assert.Equal(t, "XYZ", changed.Token())
	assert.Equal(t, "PFT", changed.ClaimName())
	assert.Equal(t, "y=a+b", changed.RawQuery())
	assert.Equal(t, canonical.Params{{Name: "content-type", Value: "text/plain"}}, changed.Headers())

	q := changed.Query()
	q[0].Value = "mutated"
	assert.Equal(t, "a b", changed.Query()[0].Value)
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("put", "https://api.example.com/v1/items/?b=2&a=1", nil)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Add("X-Tag", "one")
	r.Header.Add("X-Tag", "two")

	d, err := request.FromHTTP(r, "", "tok", "X-Tag", "X-Missing", "Content-Type")
	require.NoError(t, err)

	assert.Equal(t, "PUT", d.Method())
	assert.Equal(t, "/v1/items", d.Path())
	assert.Equal(t, []string{"b", "a"}, d.Query().Names())
	assert.Equal(t, "tok", d.Token())
	assert.Equal(t, "at", d.ClaimName())
	assert.Equal(t, canonical.Params{
		{Name: "x-tag", Value: "one, two"},
		{Name: "content-type", Value: "application/json"},
	}, d.Headers())
}
