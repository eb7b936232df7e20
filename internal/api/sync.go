package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/gate"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// defaultMaxBatchSize applies when the config leaves max_batch_size unset.
const defaultMaxBatchSize = 1000

func (s *Server) maxBatchSize() int {
	if s.cfg.MaxBatchSize <= 0 {
		return defaultMaxBatchSize
	}
	return s.cfg.MaxBatchSize
}

// decodeBatch decodes a JSON array body into dst and checks its size.
// It writes the error response itself and reports whether to continue.
func decodeBatch[T any](s *Server, w http.ResponseWriter, r *http.Request, dst *[]T) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeMalformed(w, r, "request body must be a JSON array of records")
		return false
	}
	if len(*dst) == 0 {
		writeBadRequest(w, r, "batch is empty")
		return false
	}
	if limit := s.maxBatchSize(); len(*dst) > limit {
		writeBadRequest(w, r, fmt.Sprintf("batch exceeds %d records", limit))
		return false
	}
	return true
}

// handleSubmitEntries ingests a batch of append-only records.
func (s *Server) handleSubmitEntries(class reconcile.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []reconcile.AuditLogEntry
		if !decodeBatch(s, w, r, &entries) {
			return
		}

		results, err := s.reconciler.SubmitAppendOnly(r.Context(), class, entries)
		if err != nil {
			s.logger.Error("batch submit failed", "class", class, "error", err)
			writeInternalError(w, r, "batch could not be processed")
			return
		}

		s.logger.Debug("batch submitted",
			"class", class,
			"entries", len(entries),
			"actor", actor(r),
		)
		writeJSON(w, http.StatusOK, results)
	}
}

// handleFetchEntries returns records newer than the since cursor.
func (s *Server) handleFetchEntries(class reconcile.Class) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cursor *time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				writeBadRequest(w, r, "since must be an RFC 3339 timestamp")
				return
			}
			cursor = &t
		}

		entries, err := s.reconciler.FetchSince(r.Context(), class, cursor)
		if err != nil {
			s.logger.Error("fetch failed", "class", class, "error", err)
			writeInternalError(w, r, "records could not be read")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleSubmitConsents ingests a batch of consent records.
func (s *Server) handleSubmitConsents(w http.ResponseWriter, r *http.Request) {
	var records []reconcile.ConsentRecord
	if !decodeBatch(s, w, r, &records) {
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.SubmitConsents(r.Context(), records))
}

// handleListConsents returns one subject's consent history.
func (s *Server) handleListConsents(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject_id")
	if subject == "" {
		writeBadRequest(w, r, "subject_id is required")
		return
	}

	records, err := s.reconciler.FetchConsentsForSubject(r.Context(), subject)
	if err != nil {
		s.logger.Error("consent lookup failed", "error", err)
		writeInternalError(w, r, "consents could not be read")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// actor names the verified caller, or "loopback" for bypassed requests.
func actor(r *http.Request) string {
	if c := gate.ClaimsFromContext(r.Context()); c != nil {
		return c.Identifier()
	}
	return "loopback"
}
