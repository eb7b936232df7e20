package reconcile

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// maxIDLength bounds client-generated ids.
const maxIDLength = 128

// Observer is told about completed batches and purges. Implementations
// publish events or metrics and must not block.
type Observer interface {
	BatchReconciled(ctx context.Context, summary BatchSummary)
	Purged(ctx context.Context, report PurgeReport)
}

// Options configures a Service.
type Options struct {
	// Retention lists the classes the purge covers. Defaults to
	// DefaultRetention when empty.
	Retention []RetentionPolicy
	// RetentionKey authorises Purge. An empty key rejects every call.
	RetentionKey string
	// Observer is optional.
	Observer Observer
}

// Stats counts reconciled entries since start.
type Stats struct {
	Synchronized int64 `json:"synchronized"`
	Duplicates   int64 `json:"duplicates"`
	Errors       int64 `json:"errors"`
	Purged       int64 `json:"purged"`
}

// Service applies the reconciliation policies on top of a Repository.
type Service struct {
	repo      Repository
	retention []RetentionPolicy
	keyDigest [sha256.Size]byte
	hasKey    bool
	observer  Observer
	logger    *logging.Logger
	now       func() time.Time

	synchronized atomic.Int64
	duplicates   atomic.Int64
	failed       atomic.Int64
	purged       atomic.Int64
}

// NewService creates a Service.
func NewService(repo Repository, opts Options, logger *logging.Logger) *Service {
	retention := opts.Retention
	if len(retention) == 0 {
		retention = DefaultRetention()
	}
	return &Service{
		repo:      repo,
		retention: retention,
		keyDigest: sha256.Sum256([]byte(opts.RetentionKey)),
		hasKey:    opts.RetentionKey != "",
		observer:  opts.Observer,
		logger:    logger.With("component", "reconcile"),
		now:       time.Now,
	}
}

// SubmitAppendOnly stores each entry if its id is new. Results are in
// submission order. The error is non-nil only for a non-append-only class.
func (s *Service) SubmitAppendOnly(ctx context.Context, class Class, entries []AuditLogEntry) ([]Result, error) {
	if !class.AppendOnly() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	received := s.now().UTC()
	results := make([]Result, len(entries))
	for i, e := range entries {
		results[i] = s.insertOne(ctx, class, e, received)
	}

	s.finishBatch(ctx, class, results, received)
	return results, nil
}

// Append stores one locally generated entry, such as a denied request.
// It is not a client submission: sync counters and observers are not
// told about it.
func (s *Service) Append(ctx context.Context, class Class, e AuditLogEntry) error {
	if !class.AppendOnly() {
		return fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	if res := s.insertOne(ctx, class, e, s.now().UTC()); res.Status == StatusError {
		return errors.New(res.Error)
	}
	return nil
}

func (s *Service) insertOne(ctx context.Context, class Class, e AuditLogEntry, received time.Time) Result {
	if msg := validateEntry(e); msg != "" {
		return Result{ID: e.ID, Status: StatusError, Error: msg}
	}

	// Storage is millisecond precision.
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
	e.ReceivedAt = received

	inserted, err := s.repo.InsertIfAbsent(ctx, class, e)
	if err != nil {
		s.logger.Error("persisting entry failed", "class", class, "id", e.ID, "error", err)
		return Result{ID: e.ID, Status: StatusError, Error: "persistence failure"}
	}
	if !inserted {
		return Result{ID: e.ID, Status: StatusDuplicateIgnored}
	}
	return Result{ID: e.ID, Status: StatusSynchronized}
}

func validateEntry(e AuditLogEntry) string {
	switch {
	case e.ID == "":
		return "missing id"
	case len(e.ID) > maxIDLength:
		return "id too long"
	case e.Timestamp.IsZero():
		return "missing timestamp"
	case e.Action == "":
		return "missing action"
	}
	return ""
}

// FetchSince returns up to PageSize entries newer than cursor, newest
// first. A nil cursor returns the most recent page. With a cursor the page
// holds the oldest unseen entries, so callers catch up by advancing the
// cursor to the largest timestamp they have seen until a page is empty.
func (s *Service) FetchSince(ctx context.Context, class Class, cursor *time.Time) ([]AuditLogEntry, error) {
	if !class.AppendOnly() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return s.repo.ListSince(ctx, class, cursor, PageSize)
}

// SubmitConsents inserts or replaces each record by id.
func (s *Service) SubmitConsents(ctx context.Context, records []ConsentRecord) []Result {
	now := s.now().UTC()
	results := make([]Result, len(records))

	for i, c := range records {
		if msg := validateConsent(c); msg != "" {
			results[i] = Result{ID: c.ID, Status: StatusError, Error: msg}
			continue
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := s.repo.UpsertConsent(ctx, c, now); err != nil {
			s.logger.Error("persisting consent failed", "id", c.ID, "error", err)
			results[i] = Result{ID: c.ID, Status: StatusError, Error: "persistence failure"}
			continue
		}
		results[i] = Result{ID: c.ID, Status: StatusSynchronized}
	}

	s.finishBatch(ctx, ClassConsent, results, now)
	return results
}

func validateConsent(c ConsentRecord) string {
	switch {
	case c.ID == "":
		return "missing id"
	case len(c.ID) > maxIDLength:
		return "id too long"
	case c.SubjectID == "":
		return "missing subject_id"
	case c.GrantedAt.IsZero():
		return "missing granted_at"
	case c.Withdrawn && c.WithdrawnAt == nil:
		return "withdrawn record requires withdrawn_at"
	}
	return ""
}

// FetchConsentsForSubject returns a subject's consent history, most
// recently granted first.
func (s *Service) FetchConsentsForSubject(ctx context.Context, subjectID string) ([]ConsentRecord, error) {
	return s.repo.ListConsents(ctx, subjectID)
}

// Purge checks key, then deletes every class's expired rows. A wrong key
// returns ErrRetentionKeyInvalid before any deletion.
func (s *Service) Purge(ctx context.Context, key string) (PurgeReport, error) {
	digest := sha256.Sum256([]byte(key))
	if !s.hasKey || subtle.ConstantTimeCompare(digest[:], s.keyDigest[:]) != 1 {
		return PurgeReport{}, ErrRetentionKeyInvalid
	}
	return s.PurgeExpired(ctx), nil
}

// PurgeExpired deletes rows older than each policy's window. A failing
// class is reported and the remaining classes still run. For in-process
// callers that need no key.
func (s *Service) PurgeExpired(ctx context.Context) PurgeReport {
	now := s.now().UTC()
	report := PurgeReport{
		ExecutedAt:    now,
		RemovedCounts: make(map[Class]int64, len(s.retention)),
		Errors:        []string{},
	}

	for _, p := range s.retention {
		cutoff := now.Add(-time.Duration(p.MaxAgeDays) * 24 * time.Hour)
		n, err := s.repo.DeleteOlderThan(ctx, p.Class, cutoff)
		if err != nil {
			s.logger.Error("retention purge failed", "class", p.Class, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: purge failed", p.Class))
			report.Failed = append(report.Failed, p.Class)
			continue
		}
		report.RemovedCounts[p.Class] = n
		s.purged.Add(n)
	}

	s.logger.Info("retention purge complete", "removed", report.RemovedCounts, "errors", len(report.Errors))
	if s.observer != nil {
		s.observer.Purged(ctx, report)
	}
	return report
}

// Stats returns counters since start.
func (s *Service) Stats() Stats {
	return Stats{
		Synchronized: s.synchronized.Load(),
		Duplicates:   s.duplicates.Load(),
		Errors:       s.failed.Load(),
		Purged:       s.purged.Load(),
	}
}

func (s *Service) finishBatch(ctx context.Context, class Class, results []Result, at time.Time) {
	sum := Summarize(class, results, at)
	s.synchronized.Add(int64(sum.Synchronized))
	s.duplicates.Add(int64(sum.Duplicates))
	s.failed.Add(int64(sum.Errors))

	s.logger.Debug("batch reconciled",
		"class", class,
		"submitted", sum.Submitted,
		"synchronized", sum.Synchronized,
		"duplicates", sum.Duplicates,
		"errors", sum.Errors,
	)
	if s.observer != nil {
		s.observer.BatchReconciled(ctx, sum)
	}
}
