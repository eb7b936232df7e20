package api

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/events"
	"github.com/nerrad567/gray-logic-access/internal/gate"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// ActionGateForbidden is the audit action recorded for a denied request.
const ActionGateForbidden = "gate.forbidden"

// DeniedRecorder writes forbidden requests to the audit log and publishes
// them as events.
type DeniedRecorder struct {
	reconciler *reconcile.Service
	events     *events.Publisher
}

var _ gate.DeniedRecorder = (*DeniedRecorder)(nil)

// NewDeniedRecorder creates a DeniedRecorder. pub may be nil.
func NewDeniedRecorder(svc *reconcile.Service, pub *events.Publisher) *DeniedRecorder {
	return &DeniedRecorder{reconciler: svc, events: pub}
}

// RecordDenied implements gate.DeniedRecorder.
func (d *DeniedRecorder) RecordDenied(ctx context.Context, a gate.DeniedAttempt) error {
	after, err := json.Marshal(map[string]string{
		"subject": a.Subject,
		"method":  a.Method,
		"path":    a.Path,
	})
	if err != nil {
		return err
	}

	entry := reconcile.AuditLogEntry{
		ID:              uuid.NewString(),
		Timestamp:       a.At,
		ActorIdentifier: a.Identifier,
		Action:          ActionGateForbidden,
		EntityType:      "route",
		EntityID:        a.Path,
		AfterState:      after,
		OriginAddress:   a.Origin,
		UserAgent:       a.UserAgent,
	}

	if d.events != nil {
		d.events.Denied(ctx, a)
	}
	return d.reconciler.Append(ctx, reconcile.ClassAudit, entry)
}
