package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

func queued(t *testing.T, ob *Outbox, ids ...string) {
	t.Helper()
	for i, id := range ids {
		require.NoError(t, ob.Add(context.Background(), reconcile.AuditLogEntry{
			ID:         id,
			Timestamp:  scanStart.Add(time.Duration(i) * time.Second),
			Action:     ActionGranted,
			AfterState: json.RawMessage(`{"scan_ms":40}`),
		}))
	}
}

// scriptedServer answers batch submissions with a status per id.
type scriptedServer struct {
	mu       sync.Mutex
	statuses map[string]reconcile.Status
	calls    int
	fail     bool
}

func (s *scriptedServer) SubmitAccessEvents(_ context.Context, entries []reconcile.AuditLogEntry) ([]reconcile.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("posting batch: %w", errors.New("connection refused"))
	}
	out := make([]reconcile.Result, len(entries))
	for i, e := range entries {
		st, ok := s.statuses[e.ID]
		if !ok {
			st = reconcile.StatusSynchronized
		}
		out[i] = reconcile.Result{ID: e.ID, Status: st}
		if st == reconcile.StatusError {
			out[i].Error = "persistence failure"
		}
	}
	return out, nil
}

func (s *scriptedServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestOutbox_AddIsIdempotent(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "a", "a", "b")

	pending, err := ob.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.JSONEq(t, `{"scan_ms":40}`, string(pending[0].AfterState))
	assert.Nil(t, pending[0].BeforeState)
}

func TestShipOnce_MarksStoredEntries(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "new", "dup", "bad")

	srv := &scriptedServer{statuses: map[string]reconcile.Status{
		"dup": reconcile.StatusDuplicateIgnored,
		"bad": reconcile.StatusError,
	}}
	sh := NewShipper(ob, srv, time.Minute, 10, logging.Discard())

	report, err := sh.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ShipReport{Attempted: 3, Shipped: 2, Failed: 1}, report)

	pending, err := ob.Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bad", pending[0].ID)

	// The failed entry is retried next cycle.
	srv.statuses = nil
	report, err = sh.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ShipReport{Attempted: 1, Shipped: 1}, report)

	p, s, err := ob.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p)
	assert.Equal(t, 3, s)
}

func TestShipOnce_TransportFailureKeepsEverything(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "a", "b")

	sh := NewShipper(ob, &scriptedServer{fail: true}, time.Minute, 10, logging.Discard())
	_, err := sh.ShipOnce(context.Background())
	require.Error(t, err)

	pending, err := ob.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestShipOnce_Empty(t *testing.T) {
	srv := &scriptedServer{}
	sh := NewShipper(openOutbox(t), srv, time.Minute, 10, logging.Discard())

	report, err := sh.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report)
	assert.Zero(t, srv.callCount())
}

func TestShipOnce_BatchSize(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "a", "b", "c")

	sh := NewShipper(ob, &scriptedServer{}, time.Minute, 2, logging.Discard())
	report, err := sh.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
}

func TestShipper_StartStop(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "a")
	srv := &scriptedServer{}

	sh := NewShipper(ob, srv, time.Hour, 10, logging.Discard())
	sh.Start(context.Background())
	require.Eventually(t, func() bool {
		p, _, err := ob.Counts(context.Background())
		return err == nil && p == 0
	}, 2*time.Second, 10*time.Millisecond)
	sh.Stop()

	assert.Equal(t, 1, srv.callCount())
}

func TestNextBackoff(t *testing.T) {
	base := time.Second
	assert.Equal(t, 2*time.Second, nextBackoff(base, base))
	assert.Equal(t, 16*time.Second, nextBackoff(10*time.Second, base))
}

func TestOutbox_PurgeShipped(t *testing.T) {
	ob := openOutbox(t)
	queued(t, ob, "old", "recent", "unsent")
	ctx := context.Background()

	require.NoError(t, ob.MarkShipped(ctx, []string{"old"}, scanStart.Add(-48*time.Hour)))
	require.NoError(t, ob.MarkShipped(ctx, []string{"recent"}, scanStart))

	n, err := ob.PurgeShipped(ctx, scanStart.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	p, s, err := ob.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, s)
}

// =============================================================================
// HTTP client
// =============================================================================

func TestClient_SubmitAccessEvents(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var entries []reconcile.AuditLogEntry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := make([]reconcile.Result, len(entries))
		for i, e := range entries {
			out[i] = reconcile.Result{ID: e.ID, Status: reconcile.StatusSynchronized}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out) //nolint:errcheck // test server
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "station-token", "access-station/test", 5*time.Second)
	results, err := c.SubmitAccessEvents(context.Background(), []reconcile.AuditLogEntry{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Bearer station-token", gotAuth)
	assert.Equal(t, "/api/v1/access-events/batch", gotPath)
}

func TestClient_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrRejected},
		{http.StatusForbidden, ErrRejected},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadRequest, ErrServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "t", "", time.Second).SubmitAccessEvents(context.Background(), []reconcile.AuditLogEntry{{ID: "a"}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`)) //nolint:errcheck // test server
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", "", time.Second).SubmitAccessEvents(context.Background(), []reconcile.AuditLogEntry{{ID: "a"}})
	assert.ErrorIs(t, err, ErrServer)
}
