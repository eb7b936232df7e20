package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// handlePurge runs the retention purge. The key is the only credential;
// a wrong key deletes nothing.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Purge(r.Context(), r.URL.Query().Get("key"))
	if errors.Is(err, reconcile.ErrRetentionKeyInvalid) {
		s.logger.Warn("retention purge refused", "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, ErrCodeRetentionKeyInvalid, "retention key invalid")
		return
	}
	if err != nil {
		writeInternalError(w, r, "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
