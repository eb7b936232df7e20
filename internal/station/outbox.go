package station

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// Outbox row states.
const (
	StatusPending = "pending"
	StatusShipped = "shipped"
)

// Outbox is the station's durable queue of access events.
type Outbox struct {
	db *sql.DB
}

// NewOutbox wraps a migrated station database.
func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Add queues an entry. Re-adding an id is a no-op.
func (o *Outbox) Add(ctx context.Context, e reconcile.AuditLogEntry) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (id, ts, actor_identifier, action, entity_type, entity_id,
			before_state, after_state, origin_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Timestamp.UnixMilli(), e.ActorIdentifier, e.Action, e.EntityType, e.EntityID,
		nullableText(e.BeforeState), nullableText(e.AfterState), e.OriginAddress, e.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("queueing entry %s: %w", e.ID, err)
	}
	return nil
}

// Pending returns up to limit unshipped entries, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]reconcile.AuditLogEntry, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, ts, actor_identifier, action, entity_type, entity_id,
			before_state, after_state, origin_address, user_agent
		FROM outbox WHERE status = ? ORDER BY ts ASC, id ASC LIMIT ?`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox: %w", err)
	}
	defer rows.Close()

	var entries []reconcile.AuditLogEntry
	for rows.Next() {
		var e reconcile.AuditLogEntry
		var ts int64
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.ActorIdentifier, &e.Action, &e.EntityType, &e.EntityID,
			&before, &after, &e.OriginAddress, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		if before.Valid {
			e.BeforeState = json.RawMessage(before.String)
		}
		if after.Valid {
			e.AfterState = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox: %w", err)
	}
	return entries, nil
}

// MarkShipped flags entries the server has durably stored.
func (o *Outbox) MarkShipped(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `UPDATE outbox SET status = ?, shipped_at = ?, last_error = NULL WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, StatusShipped, at.UnixMilli(), id); err != nil {
			return fmt.Errorf("marking %s shipped: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkFailed records a rejected attempt; the entry stays pending.
func (o *Outbox) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("marking %s failed: %w", id, err)
	}
	return nil
}

// Counts returns the number of pending and shipped entries.
func (o *Outbox) Counts(ctx context.Context) (pending, shipped int, err error) {
	rows, err := o.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return 0, 0, fmt.Errorf("counting outbox: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("scanning count: %w", err)
		}
		switch status {
		case StatusPending:
			pending = n
		case StatusShipped:
			shipped = n
		}
	}
	return pending, shipped, rows.Err()
}

// PurgeShipped deletes shipped entries older than cutoff.
func (o *Outbox) PurgeShipped(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := o.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = ? AND shipped_at < ?`, StatusShipped, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging shipped entries: %w", err)
	}
	return res.RowsAffected()
}

func nullableText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
