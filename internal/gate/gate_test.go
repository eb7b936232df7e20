package gate

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

const (
	issuer   = "https://id.graylogic.test"
	audience = "access-api"
)

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []DeniedAttempt
	ctxErrs  []error
	err      error
}

func (m *memoryRecorder) RecordDenied(ctx context.Context, a DeniedAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.err
}

type fixture struct {
	key      *ecdsa.PrivateKey
	gate     *Gate
	recorder *memoryRecorder
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rec := &memoryRecorder{}
	verifier := credential.NewVerifier(credential.StaticKey{Key: &key.PublicKey}, issuer, audience)
	policy := NewPolicy([]string{"graylogic.test"}, []string{"auditor@partner.example"})
	g := New(verifier, policy, rec, opts, logging.Discard())

	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	return &fixture{key: key, gate: g, recorder: rec, now: now}
}

func (f *fixture) token(t *testing.T, email string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodES256, credential.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-" + email,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
	}).SignedString(f.key)
	require.NoError(t, err)
	return tok
}

func request(method, host, remote, auth string) *http.Request {
	r := httptest.NewRequest(method, "http://"+host+"/api/v1/audit", nil)
	r.Host = host
	r.RemoteAddr = remote
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	return r
}

func TestCheck(t *testing.T) {
	f := newFixture(t, Options{LoopbackBypass: true})
	valid := func(email string) string { return "Bearer " + f.token(t, email, f.now.Add(time.Hour)) }

	tests := []struct {
		name       string
		req        *http.Request
		wantCode   Code
		wantClaims bool
	}{
		{
			name: "preflight passes",
			req:  request(http.MethodOptions, "access.graylogic.test", "203.0.113.5:4000", ""),
		},
		{
			name:     "missing header",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", ""),
			wantCode: CodeUnauthenticated,
		},
		{
			name:     "wrong scheme",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "Basic dXNlcjpwYXNz"),
			wantCode: CodeUnauthenticated,
		},
		{
			name:     "empty bearer",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "Bearer "),
			wantCode: CodeUnauthenticated,
		},
		{
			name:     "garbage token",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "Bearer not.a.token"),
			wantCode: CodeUnauthenticated,
		},
		{
			name:     "expired token",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "Bearer "+f.token(t, "dana@graylogic.test", f.now.Add(-time.Minute))),
			wantCode: CodeUnauthenticated,
		},
		{
			name:       "domain suffix granted",
			req:        request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", valid("dana@graylogic.test")),
			wantClaims: true,
		},
		{
			name:       "lowercase bearer scheme",
			req:        request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "bearer "+f.token(t, "dana@graylogic.test", f.now.Add(time.Hour))),
			wantClaims: true,
		},
		{
			name:       "exact identifier granted",
			req:        request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", valid("Auditor@Partner.example")),
			wantClaims: true,
		},
		{
			name:     "lookalike domain forbidden",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", valid("eve@evilgraylogic.test")),
			wantCode: CodeForbidden,
		},
		{
			name:     "unlisted identity forbidden",
			req:      request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", valid("someone@partner.example")),
			wantCode: CodeForbidden,
		},
		{
			name: "loopback without credential bypasses",
			req:  request(http.MethodGet, "localhost:8080", "127.0.0.1:52000", ""),
		},
		{
			name: "ipv6 loopback bypasses",
			req:  request(http.MethodGet, "[::1]:8080", "[::1]:52000", ""),
		},
		{
			name:     "loopback with invalid credential rejected",
			req:      request(http.MethodGet, "localhost:8080", "127.0.0.1:52000", "Bearer forged"),
			wantCode: CodeUnauthenticated,
		},
		{
			name:     "spoofed loopback host from remote peer",
			req:      request(http.MethodGet, "localhost", "198.51.100.7:4000", ""),
			wantCode: CodeUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, rej := f.gate.Check(tt.req)
			if tt.wantCode == "" {
				require.Nil(t, rej)
			} else {
				require.NotNil(t, rej)
				require.Equal(t, tt.wantCode, rej.Code)
				require.Nil(t, claims)
			}
			require.Equal(t, tt.wantClaims, claims != nil)
		})
	}
}

func TestCheck_BypassDisabled(t *testing.T) {
	f := newFixture(t, Options{})

	_, rej := f.gate.Check(request(http.MethodGet, "localhost:8080", "127.0.0.1:52000", ""))
	require.NotNil(t, rej)
	require.Equal(t, CodeUnauthenticated, rej.Code)
}

func TestCheck_ForbiddenIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	req := request(http.MethodPost, "access.graylogic.test", "203.0.113.5:4000", "Bearer "+f.token(t, "mallory@elsewhere.example", f.now.Add(time.Hour)))
	req.Header.Set("User-Agent", "curl/8.5")

	_, rej := f.gate.Check(req)
	require.Equal(t, CodeForbidden, rej.Code)

	require.Len(t, f.recorder.attempts, 1)
	a := f.recorder.attempts[0]
	require.Equal(t, "mallory@elsewhere.example", a.Identifier)
	require.Equal(t, "user-mallory@elsewhere.example", a.Subject)
	require.Equal(t, f.now, a.At)
	require.Equal(t, "203.0.113.5:4000", a.Origin)
	require.Equal(t, "curl/8.5", a.UserAgent)
	require.Equal(t, "/api/v1/audit", a.Path)
}

func TestCheck_ForbiddenRecordedAfterClientHangup(t *testing.T) {
	f := newFixture(t, Options{})
	req := request(http.MethodGet, "access.graylogic.test", "203.0.113.5:4000", "Bearer "+f.token(t, "mallory@elsewhere.example", f.now.Add(time.Hour)))
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	_, rej := f.gate.Check(req.WithContext(ctx))
	require.Equal(t, CodeForbidden, rej.Code)

	require.Len(t, f.recorder.attempts, 1)
	require.NoError(t, f.recorder.ctxErrs[0])
}

func TestCheck_RecorderFailureStillForbids(t *testing.T) {
	f := newFixture(t, Options{})
	f.recorder.err = errors.New("disk full")

	_, rej := f.gate.Check(request(http.MethodGet, "h", "203.0.113.5:4000", "Bearer "+f.token(t, "x@elsewhere.example", f.now.Add(time.Hour))))
	require.Equal(t, CodeForbidden, rej.Code)
}

func TestCheck_UnauthenticatedIsNotRecorded(t *testing.T) {
	f := newFixture(t, Options{})

	_, rej := f.gate.Check(request(http.MethodGet, "h", "203.0.113.5:4000", "Bearer bad"))
	require.Equal(t, CodeUnauthenticated, rej.Code)
	require.Empty(t, f.recorder.attempts)
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, Options{})

	var seen *credential.Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	var rejected *Rejection
	reject := func(w http.ResponseWriter, _ *http.Request, rej *Rejection) {
		rejected = rej
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := f.gate.Middleware(reject)(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodGet, "h", "203.0.113.5:4000", "Bearer "+f.token(t, "dana@graylogic.test", f.now.Add(time.Hour))))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	require.Equal(t, "dana@graylogic.test", seen.Email)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodGet, "h", "203.0.113.5:4000", ""))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeUnauthenticated, rejected.Code)

	stats := f.gate.Stats()
	require.EqualValues(t, 1, stats.Admitted)
	require.EqualValues(t, 1, stats.Unauthenticated)
}

func TestClaimsFromContext_Empty(t *testing.T) {
	require.Nil(t, ClaimsFromContext(context.Background()))
}
