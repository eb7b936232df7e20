package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Repository is the relational store behind the Service.
type Repository interface {
	// InsertIfAbsent stores e unless its id exists. inserted is false for
	// a duplicate.
	InsertIfAbsent(ctx context.Context, class Class, e AuditLogEntry) (inserted bool, err error)
	// ListSince returns up to limit entries newer than cursor, newest
	// first. A nil cursor selects the most recent entries; otherwise the
	// page holds the oldest entries after the cursor.
	ListSince(ctx context.Context, class Class, cursor *time.Time, limit int) ([]AuditLogEntry, error)
	// UpsertConsent inserts c or replaces the stored record with the same id.
	UpsertConsent(ctx context.Context, c ConsentRecord, updatedAt time.Time) error
	// ListConsents returns a subject's records by grant time, newest first.
	ListConsents(ctx context.Context, subjectID string) ([]ConsentRecord, error)
	// DeleteOlderThan removes rows of class strictly older than cutoff.
	DeleteOlderThan(ctx context.Context, class Class, cutoff time.Time) (int64, error)
}

// SQLiteRepository implements Repository over the server schema.
// Timestamps are stored as Unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func entryTable(class Class) (string, error) {
	switch class {
	case ClassAudit:
		return "audit_logs", nil
	case ClassAccess:
		return "access_events", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
}

// InsertIfAbsent implements Repository.
func (r *SQLiteRepository) InsertIfAbsent(ctx context.Context, class Class, e AuditLogEntry) (bool, error) {
	table, err := entryTable(class)
	if err != nil {
		return false, err
	}

	//nolint:gosec // table name comes from entryTable, not input
	query := fmt.Sprintf(`INSERT INTO %s
		(id, ts, actor_identifier, action, entity_type, entity_id,
		 before_state, after_state, origin_address, user_agent, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, table)

	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UnixMilli(), e.ActorIdentifier, e.Action, e.EntityType, e.EntityID,
		nullableJSON(e.BeforeState), nullableJSON(e.AfterState),
		e.OriginAddress, e.UserAgent, e.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting %s entry: %w", class, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

const entryColumns = `id, ts, actor_identifier, action, entity_type, entity_id,
		before_state, after_state, origin_address, user_agent, received_at`

// ListSince implements Repository.
//
// Without a cursor it returns the newest rows. With one it takes the
// oldest rows after the cursor, so a caller advancing to the page's newest
// timestamp never steps over unread rows. Either way the page is returned
// newest first.
func (r *SQLiteRepository) ListSince(ctx context.Context, class Class, cursor *time.Time, limit int) ([]AuditLogEntry, error) {
	table, err := entryTable(class)
	if err != nil {
		return nil, err
	}

	if cursor == nil {
		//nolint:gosec // table name comes from entryTable, not input
		query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY ts DESC, id DESC LIMIT ?`, entryColumns, table)
		return r.queryEntries(ctx, class, query, limit)
	}

	// One row past the limit shows whether the page ends inside a
	// millisecond.
	//nolint:gosec // table name comes from entryTable, not input
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ts > ? ORDER BY ts ASC, id ASC LIMIT ?`, entryColumns, table)
	entries, err := r.queryEntries(ctx, class, query, cursor.UnixMilli(), limit+1)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = trimSplitMillisecond(entries, limit)
	}
	slices.Reverse(entries)
	return entries, nil
}

// trimSplitMillisecond cuts an ascending page to limit rows and drops the
// trailing rows that share a timestamp with the first row left out. The
// next fetch from the page's newest timestamp returns them together. A
// page that is one millisecond throughout is kept whole.
func trimSplitMillisecond(entries []AuditLogEntry, limit int) []AuditLogEntry {
	next := entries[limit].Timestamp
	page := entries[:limit]
	n := len(page)
	for n > 0 && page[n-1].Timestamp.Equal(next) {
		n--
	}
	if n == 0 {
		return page
	}
	return page[:n]
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, class Class, query string, args ...any) ([]AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s entries: %w", class, err)
	}
	defer rows.Close()

	entries := []AuditLogEntry{}
	for rows.Next() {
		var e AuditLogEntry
		var ts, received int64
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.ActorIdentifier, &e.Action, &e.EntityType, &e.EntityID,
			&before, &after, &e.OriginAddress, &e.UserAgent, &received); err != nil {
			return nil, fmt.Errorf("scanning %s entry: %w", class, err)
		}
		e.Timestamp = fromMillis(ts)
		e.ReceivedAt = fromMillis(received)
		if before.Valid {
			e.BeforeState = json.RawMessage(before.String)
		}
		if after.Valid {
			e.AfterState = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s entries: %w", class, err)
	}
	return entries, nil
}

// UpsertConsent implements Repository.
func (r *SQLiteRepository) UpsertConsent(ctx context.Context, c ConsentRecord, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO consents
		(id, subject_id, policy_version, consent_kind, granted, granted_at, collected_by,
		 valid_until, withdrawn, withdrawn_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_id     = excluded.subject_id,
			policy_version = excluded.policy_version,
			consent_kind   = excluded.consent_kind,
			granted        = excluded.granted,
			granted_at     = excluded.granted_at,
			collected_by   = excluded.collected_by,
			valid_until    = excluded.valid_until,
			withdrawn      = excluded.withdrawn,
			withdrawn_at   = excluded.withdrawn_at,
			created_at     = excluded.created_at,
			updated_at     = excluded.updated_at`,
		c.ID, c.SubjectID, c.PolicyVersion, c.ConsentKind, boolInt(c.Granted), c.GrantedAt.UnixMilli(),
		c.CollectedBy, nullableMillis(c.ValidUntil), boolInt(c.Withdrawn), nullableMillis(c.WithdrawnAt),
		c.CreatedAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting consent: %w", err)
	}
	return nil
}

// ListConsents implements Repository.
func (r *SQLiteRepository) ListConsents(ctx context.Context, subjectID string) ([]ConsentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, subject_id, policy_version, consent_kind, granted,
		granted_at, collected_by, valid_until, withdrawn, withdrawn_at, created_at
		FROM consents WHERE subject_id = ? ORDER BY granted_at DESC, id DESC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("querying consents: %w", err)
	}
	defer rows.Close()

	records := []ConsentRecord{}
	for rows.Next() {
		var c ConsentRecord
		var granted, withdrawn int64
		var grantedAt, createdAt int64
		var validUntil, withdrawnAt sql.NullInt64
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.PolicyVersion, &c.ConsentKind, &granted,
			&grantedAt, &c.CollectedBy, &validUntil, &withdrawn, &withdrawnAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning consent: %w", err)
		}
		c.Granted = granted != 0
		c.Withdrawn = withdrawn != 0
		c.GrantedAt = fromMillis(grantedAt)
		c.CreatedAt = fromMillis(createdAt)
		c.ValidUntil = optionalMillis(validUntil)
		c.WithdrawnAt = optionalMillis(withdrawnAt)
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consents: %w", err)
	}
	return records, nil
}

// DeleteOlderThan implements Repository. Consent age is measured from
// granted_at. Stored timestamps are whole milliseconds, so the cutoff is
// rounded up: a row is older than a sub-millisecond cutoff exactly when it
// is older than the next whole millisecond.
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, class Class, cutoff time.Time) (int64, error) {
	var query string
	switch class {
	case ClassAudit:
		query = "DELETE FROM audit_logs WHERE ts < ?"
	case ClassAccess:
		query = "DELETE FROM access_events WHERE ts < ?"
	case ClassConsent:
		query = "DELETE FROM consents WHERE granted_at < ?"
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	res, err := r.db.ExecContext(ctx, query, ceilMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging %s: %w", class, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func optionalMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func ceilMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
