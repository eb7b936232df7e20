package gate

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// Code is the stable rejection taxonomy returned to callers.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeForbidden       Code = "forbidden"
)

// Rejection describes why a request was refused. Only Code and Message
// may be shown to the caller.
type Rejection struct {
	Code    Code
	Message string
}

var (
	rejectMissing   = &Rejection{Code: CodeUnauthenticated, Message: "authentication required"}
	rejectInvalid   = &Rejection{Code: CodeUnauthenticated, Message: "invalid credential"}
	rejectForbidden = &Rejection{Code: CodeForbidden, Message: "access not permitted for this identity"}
)

// TokenVerifier verifies a bearer token. *credential.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string, now time.Time) credential.Outcome
}

// DeniedAttempt is a verified caller refused by the allow-list.
type DeniedAttempt struct {
	Identifier string
	Subject    string
	At         time.Time
	Origin     string
	UserAgent  string
	Method     string
	Path       string
}

// DeniedRecorder persists denied attempts for audit review.
type DeniedRecorder interface {
	RecordDenied(ctx context.Context, attempt DeniedAttempt) error
}

// recordTimeout bounds the write of one denied attempt.
const recordTimeout = 5 * time.Second

// RejectFunc writes the response for a refused request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, rej *Rejection)

// Options configures a Gate.
type Options struct {
	// LoopbackBypass admits credential-less requests addressed to, and
	// arriving from, a loopback address. Development only.
	LoopbackBypass bool
}

// Stats counts gate decisions since start.
type Stats struct {
	Admitted        int64 `json:"admitted"`
	Bypassed        int64 `json:"bypassed"`
	Unauthenticated int64 `json:"unauthenticated"`
	Forbidden       int64 `json:"forbidden"`
}

// Gate makes trust decisions for protected routes.
type Gate struct {
	verifier TokenVerifier
	policy   *Policy
	recorder DeniedRecorder
	opts     Options
	logger   *logging.Logger
	now      func() time.Time

	admitted        atomic.Int64
	bypassed        atomic.Int64
	unauthenticated atomic.Int64
	forbidden       atomic.Int64
}

// New creates a Gate. recorder may be nil only in tests.
func New(verifier TokenVerifier, policy *Policy, recorder DeniedRecorder, opts Options, logger *logging.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		policy:   policy,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With("component", "gate"),
		now:      time.Now,
	}
}

// Check decides one request. It returns the verified claims (nil when the
// request needs no credential) or a rejection.
func (g *Gate) Check(r *http.Request) (*credential.Claims, *Rejection) {
	if r.Method == http.MethodOptions {
		return nil, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		if g.opts.LoopbackBypass && isLoopbackRequest(r) {
			g.bypassed.Add(1)
			return nil, nil
		}
		g.unauthenticated.Add(1)
		return nil, rejectMissing
	}

	token, ok := bearerToken(header)
	if !ok {
		g.unauthenticated.Add(1)
		return nil, rejectMissing
	}

	out := g.verifier.Verify(r.Context(), token, g.now())
	if !out.Valid {
		g.unauthenticated.Add(1)
		g.logger.Info("credential rejected",
			"reason", out.Reason,
			"detail", out.Detail,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		return nil, rejectInvalid
	}

	identifier := out.Claims.Identifier()
	if !g.policy.Allows(identifier) {
		g.forbidden.Add(1)
		g.recordDenied(r, out.Claims, identifier)
		return nil, rejectForbidden
	}

	g.admitted.Add(1)
	return out.Claims, nil
}

// Middleware admits requests that pass Check, attaching their claims to the
// request context, and hands the rest to reject.
func (g *Gate) Middleware(reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, rej := g.Check(r)
			if rej != nil {
				reject(w, r, rej)
				return
			}
			if claims != nil {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Stats returns decision counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Admitted:        g.admitted.Load(),
		Bypassed:        g.bypassed.Load(),
		Unauthenticated: g.unauthenticated.Load(),
		Forbidden:       g.forbidden.Load(),
	}
}

func (g *Gate) recordDenied(r *http.Request, claims *credential.Claims, identifier string) {
	attempt := DeniedAttempt{
		Identifier: identifier,
		Subject:    claims.Subject,
		At:         g.now().UTC(),
		Origin:     r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Method:     r.Method,
		Path:       r.URL.Path,
	}

	g.logger.Warn("identity not on allow-list", "identifier", identifier, "path", attempt.Path)

	if g.recorder == nil {
		return
	}
	// A caller hanging up must not cancel its own audit record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), recordTimeout)
	defer cancel()
	if err := g.recorder.RecordDenied(ctx, attempt); err != nil {
		g.logger.Error("failed to record denied attempt", "identifier", identifier, "error", err)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// isLoopbackRequest requires both the target host and the peer to be
// loopback; the Host header alone is caller-controlled.
func isLoopbackRequest(r *http.Request) bool {
	return isLoopbackHost(r.Host) && isLoopbackHost(r.RemoteAddr)
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
