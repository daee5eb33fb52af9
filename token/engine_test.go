package token_test

import (
	"crypto/elliptic"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/pop"
	"github.com/oarkflow/pop/identity"
	"github.com/oarkflow/pop/internal/testkeys"
	"github.com/oarkflow/pop/request"
	"github.com/oarkflow/pop/token"
)

func TestFreshAndReusableProduceIdenticalRSASignatures(t *testing.T) {
	key := testkeys.RSA(t)
	for _, alg := range []identity.Algorithm{identity.RS256, identity.RS384, identity.RS512} {
		t.Run(string(alg), func(t *testing.T) {
			id := testkeys.Identity(t, key, identity.WithAlgorithm(alg))
			fresh, err := token.NewFreshEngine(id)
			require.NoError(t, err)
			reusable, err := token.NewReusableEngine(id)
			require.NoError(t, err)
			defer reusable.Close()

			for _, msg := range []string{"", "a.b", "header.payload-with-more-bytes"} {
				a, err := fresh.Sign([]byte(msg))
				require.NoError(t, err)
				b, err := reusable.Sign([]byte(msg))
				require.NoError(t, err)
				assert.Equal(t, a, b)
				assert.Equal(t, fresh.Digest([]byte(msg)), reusable.Digest([]byte(msg)))
			}
		})
	}
}

func TestFreshAndReusableCrossVerifyRandomizedAlgorithms(t *testing.T) {
	ids := map[string]*identity.Identity{
		"PS256": testkeys.Identity(t, testkeys.RSA(t), identity.WithAlgorithm(identity.PS256)),
		"PS512": testkeys.Identity(t, testkeys.RSA(t), identity.WithAlgorithm(identity.PS512)),
		"ES256": testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P256())),
		"ES384": testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P384())),
		"ES512": testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P521())),
	}
	for name, id := range ids {
		t.Run(name, func(t *testing.T) {
			fresh, err := token.NewFreshEngine(id)
			require.NoError(t, err)
			reusable, err := token.NewReusableEngine(id)
			require.NoError(t, err)
			defer reusable.Close()

			msg := []byte("signing.input")
			a, err := fresh.Sign(msg)
			require.NoError(t, err)
			b, err := reusable.Sign(msg)
			require.NoError(t, err)

			assert.True(t, fresh.Verify(msg, b))
			assert.True(t, reusable.Verify(msg, a))
			assert.False(t, fresh.Verify([]byte("other"), a))
			if id.Algorithm().Family() == identity.FamilyECDSA {
				assert.Len(t, a, 2*id.Algorithm().CoordinateSize())
			}
		})
	}
}

func TestEngineKeyErrors(t *testing.T) {
	id := testkeys.Identity(t, testkeys.RSA(t))

	fresh, err := token.NewFreshEngine(id.Public())
	require.NoError(t, err)
	_, err = fresh.Sign([]byte("x"))
	assert.ErrorIs(t, err, pop.ErrKey)

	reusable, err := token.NewReusableEngine(id)
	require.NoError(t, err)
	require.NoError(t, reusable.Close())
	_, err = reusable.Sign([]byte("x"))
	assert.ErrorIs(t, err, pop.ErrKey)
	assert.NoError(t, reusable.Close())

	_, err = token.NewFreshEngine(nil)
	assert.ErrorIs(t, err, pop.ErrKey)
	_, err = token.NewEnginePool(nil)
	assert.ErrorIs(t, err, pop.ErrKey)
}

func TestBuildersProduceIdenticalTokensAcrossEngines(t *testing.T) {
	id := testkeys.Identity(t, testkeys.RSA(t))
	now := time.Unix(1700000000, 0)
	b := token.NewBuilder(token.WithBuilderNow(func() time.Time { return now }))
	req := request.MustNew("GET", "/b/c", "d=e&f=g").WithToken("XYZ")

	fresh, err := token.NewFreshEngine(id)
	require.NoError(t, err)
	reusable, err := token.NewReusableEngine(id)
	require.NoError(t, err)
	defer reusable.Close()
	pool, err := token.NewEnginePool(id)
	require.NoError(t, err)

	a, err := b.Build(id, req, fresh)
	require.NoError(t, err)
	c, err := b.Build(id, req, reusable)
	require.NoError(t, err)
	d, err := pool.Build(b, req)
	require.NoError(t, err)

	assert.Equal(t, a, c)
	assert.Equal(t, a, d)
}

func TestEnginePoolConcurrentUse(t *testing.T) {
	id := testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P256()))
	pool, err := token.NewEnginePool(id)
	require.NoError(t, err)
	b := token.NewBuilder(token.WithNonce())
	v := token.NewVerifier()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request.MustNew("POST", "/items", "").WithToken(string(rune('a' + i%26)))
			tok, err := pool.Build(b, req)
			if err != nil {
				errs <- err
				return
			}
			res, err := v.Verify(tok, req, id.Public())
			if err != nil {
				errs <- err
				return
			}
			if !res.Valid {
				errs <- res.Reason
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEnginePoolDropsForeignEngines(t *testing.T) {
	a := testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P256()))
	other := testkeys.Identity(t, testkeys.ECDSA(t, elliptic.P256()))
	pool, err := token.NewEnginePool(a)
	require.NoError(t, err)

	foreign, err := token.NewReusableEngine(other)
	require.NoError(t, err)
	pool.Put(foreign)

	for range 4 {
		e := pool.Get()
		assert.Same(t, a, e.Identity())
		pool.Put(e)
	}
}

func BenchmarkSignFresh(b *testing.B) {
	id := testkeys.Identity(b, testkeys.ECDSA(b, elliptic.P256()))
	req := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ")
	engine, _ := token.NewFreshEngine(id)
	builder := token.NewBuilder()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(id, req, engine); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSignReusable(b *testing.B) {
	id := testkeys.Identity(b, testkeys.ECDSA(b, elliptic.P256()))
	req := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ")
	engine, _ := token.NewReusableEngine(id)
	defer engine.Close()
	builder := token.NewBuilder()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(id, req, engine); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSignPooled(b *testing.B) {
	id := testkeys.Identity(b, testkeys.ECDSA(b, elliptic.P256()))
	req := request.MustNew("GET", "/b/c", "d=e").WithToken("XYZ")
	pool, _ := token.NewEnginePool(id)
	builder := token.NewBuilder()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := pool.Build(builder, req); err != nil {
				b.Error(err)
			}
		}
	})
}
