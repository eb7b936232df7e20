package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

func toJWK(kid string, pub *ecdsa.PublicKey) jsonWebKey {
	return jsonWebKey{
		Kty: "EC",
		Crv: "P-256",
		Kid: kid,
		Use: "sig",
		Alg: "ES256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

// authority serves a mutable key set and counts fetches.
type authority struct {
	mu     sync.Mutex
	keys   []jsonWebKey
	status int
	hits   atomic.Int64
	srv    *httptest.Server
}

func newAuthority(t *testing.T, keys ...jsonWebKey) *authority {
	a := &authority{keys: keys, status: http.StatusOK}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		a.hits.Add(1)
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.status != http.StatusOK {
			w.WriteHeader(a.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keySet{Keys: a.keys}) //nolint:errcheck // test server
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *authority) set(keys ...jsonWebKey) {
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
}

func (a *authority) fail(status int) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

func newCache(a *authority, gap time.Duration) *Cache {
	return New(Config{
		URL:             a.srv.URL,
		RefreshInterval: time.Hour,
		FetchTimeout:    2 * time.Second,
		MinRefreshGap:   gap,
	}, logging.Discard())
}

func TestCache_ResolvesAndCaches(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Minute)
	ctx := context.Background()

	for range 3 {
		pub, err := c.ResolveKey(ctx, "k1")
		require.NoError(t, err)
		require.True(t, pub.Equal(&k1.PublicKey))
	}
	require.EqualValues(t, 1, a.hits.Load())

	stats := c.Stats()
	require.Equal(t, 1, stats.Keys)
	require.EqualValues(t, 1, stats.Refreshes)
	require.False(t, stats.FetchedAt.IsZero())
}

func TestCache_RotationRefreshesOnUnknownKid(t *testing.T) {
	k1, k2 := newKey(t), newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Minute)
	ctx := context.Background()

	_, err := c.ResolveKey(ctx, "k1")
	require.NoError(t, err)

	a.set(toJWK("k1", &k1.PublicKey), toJWK("k2", &k2.PublicKey))

	pub, err := c.ResolveKey(ctx, "k2")
	require.NoError(t, err)
	require.True(t, pub.Equal(&k2.PublicKey))
	require.EqualValues(t, 2, a.hits.Load())
}

func TestCache_UnknownKidRefreshIsRateLimited(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Hour)
	ctx := context.Background()

	_, err := c.ResolveKey(ctx, "k1")
	require.NoError(t, err)

	_, err = c.ResolveKey(ctx, "forged-1")
	require.ErrorIs(t, err, credential.ErrKeyNotFound)
	_, err = c.ResolveKey(ctx, "forged-2")
	require.ErrorIs(t, err, credential.ErrKeyNotFound)

	// Initial fetch plus a single unknown-kid refresh.
	require.EqualValues(t, 2, a.hits.Load())
}

func TestCache_StaleSetIsRefetched(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := c.ResolveKey(ctx, "k1")
	require.NoError(t, err)

	clock = clock.Add(30 * time.Minute)
	_, err = c.ResolveKey(ctx, "k1")
	require.NoError(t, err)
	require.EqualValues(t, 1, a.hits.Load())

	clock = clock.Add(31 * time.Minute)
	_, err = c.ResolveKey(ctx, "k1")
	require.NoError(t, err)
	require.EqualValues(t, 2, a.hits.Load())
}

func TestCache_FetchFailureIsAnError(t *testing.T) {
	a := newAuthority(t)
	a.fail(http.StatusServiceUnavailable)
	c := newCache(a, time.Minute)

	_, err := c.ResolveKey(context.Background(), "k1")
	require.Error(t, err)
	require.False(t, errors.Is(err, credential.ErrKeyNotFound))
	require.EqualValues(t, 1, c.Stats().Failures)
}

func TestCache_StaleSetIsNotUsedWhenRefreshFails(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := c.ResolveKey(ctx, "k1")
	require.NoError(t, err)

	a.fail(http.StatusInternalServerError)
	clock = clock.Add(2 * time.Hour)

	_, err = c.ResolveKey(ctx, "k1")
	require.Error(t, err)
}

func TestCache_NoUsableKeys(t *testing.T) {
	a := newAuthority(t, jsonWebKey{Kty: "RSA", Kid: "rsa-1"})
	c := newCache(a, time.Minute)

	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoUsableKeys)
}

func TestCache_KidlessTokenWithSingleKey(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("only", &k1.PublicKey))
	c := newCache(a, time.Minute)

	pub, err := c.ResolveKey(context.Background(), "")
	require.NoError(t, err)
	require.True(t, pub.Equal(&k1.PublicKey))
}

func TestCache_ConcurrentRefreshesCollapse(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	c := newCache(a, time.Minute)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ResolveKey(context.Background(), "k1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, a.hits.Load())
}

func TestCache_WithVerifier(t *testing.T) {
	k1 := newKey(t)
	a := newAuthority(t, toJWK("k1", &k1.PublicKey))
	v := credential.NewVerifier(newCache(a, time.Minute), "https://id.test", "api")
	now := time.Now()

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, credential.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "https://id.test",
			Audience:  jwt.ClaimStrings{"api"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: "ops@graylogic.test",
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(k1)
	require.NoError(t, err)

	out := v.Verify(context.Background(), signed, now)
	require.True(t, out.Valid, "reason=%s detail=%v", out.Reason, out.Detail)

	a.fail(http.StatusBadGateway)
	down := credential.NewVerifier(newCache(a, time.Minute), "https://id.test", "api")
	out = down.Verify(context.Background(), signed, now)
	require.Equal(t, credential.ReasonKeyUnavailable, out.Reason)
}

func TestJSONWebKey_PublicKey(t *testing.T) {
	k := newKey(t)
	good := toJWK("k", &k.PublicKey)

	pub, err := good.publicKey()
	require.NoError(t, err)
	require.True(t, pub.Equal(&k.PublicKey))

	tests := []struct {
		name   string
		mutate func(*jsonWebKey)
	}{
		{"wrong curve", func(j *jsonWebKey) { j.Crv = "P-384" }},
		{"encryption key", func(j *jsonWebKey) { j.Use = "enc" }},
		{"other algorithm", func(j *jsonWebKey) { j.Alg = "ES384" }},
		{"short coordinate", func(j *jsonWebKey) { j.X = base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}) }},
		{"bad base64", func(j *jsonWebKey) { j.Y = "!!!" }},
		{"point off curve", func(j *jsonWebKey) { j.Y = good.X }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := good
			tt.mutate(&j)
			_, err := j.publicKey()
			require.Error(t, err)
		})
	}
}
