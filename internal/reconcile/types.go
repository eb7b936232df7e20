package reconcile

import (
	"encoding/json"
	"errors"
	"time"
)

// Class names a record class.
type Class string

const (
	ClassAudit   Class = "audit"
	ClassAccess  Class = "access"
	ClassConsent Class = "consent"
)

// AppendOnly reports whether the class uses insert-if-absent semantics.
func (c Class) AppendOnly() bool {
	return c == ClassAudit || c == ClassAccess
}

// PageSize caps one FetchSince response.
const PageSize = 500

// Default retention windows.
const (
	DefaultAuditRetentionDays  = 1825
	DefaultAccessRetentionDays = 730
)

// ErrRetentionKeyInvalid is returned by Purge for a wrong key. Nothing is
// deleted.
var ErrRetentionKeyInvalid = errors.New("retention key invalid")

// ErrUnknownClass is returned for a class the operation does not support.
var ErrUnknownClass = errors.New("unknown record class")

// AuditLogEntry is one append-only record. ID is generated by the client
// and is the idempotency key.
type AuditLogEntry struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	ActorIdentifier string          `json:"actor_identifier"`
	Action          string          `json:"action"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	BeforeState     json.RawMessage `json:"before_state,omitempty"`
	AfterState      json.RawMessage `json:"after_state,omitempty"`
	OriginAddress   string          `json:"origin_address"`
	UserAgent       string          `json:"user_agent"`
	// ReceivedAt is set by the server; any submitted value is ignored.
	ReceivedAt time.Time `json:"received_at"`
}

// ConsentRecord is a mutable consent decision for one subject.
type ConsentRecord struct {
	ID            string     `json:"id"`
	SubjectID     string     `json:"subject_id"`
	PolicyVersion string     `json:"policy_version"`
	ConsentKind   string     `json:"consent_kind"`
	Granted       bool       `json:"granted"`
	GrantedAt     time.Time  `json:"granted_at"`
	CollectedBy   string     `json:"collected_by"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
	Withdrawn     bool       `json:"withdrawn"`
	WithdrawnAt   *time.Time `json:"withdrawn_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Status is the per-entry outcome of a batch submit.
type Status string

const (
	StatusSynchronized     Status = "synchronized"
	StatusDuplicateIgnored Status = "duplicate_ignored"
	StatusError            Status = "error"
)

// Succeeded reports whether the entry is durably stored.
func (s Status) Succeeded() bool {
	return s == StatusSynchronized || s == StatusDuplicateIgnored
}

// Result is the outcome for one submitted entry, in submission order.
type Result struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchSummary counts the outcomes of one batch.
type BatchSummary struct {
	Class        Class     `json:"class"`
	Submitted    int       `json:"submitted"`
	Synchronized int       `json:"synchronized"`
	Duplicates   int       `json:"duplicates"`
	Errors       int       `json:"errors"`
	At           time.Time `json:"at"`
}

// Summarize tallies results.
func Summarize(class Class, results []Result, at time.Time) BatchSummary {
	s := BatchSummary{Class: class, Submitted: len(results), At: at}
	for _, r := range results {
		switch r.Status {
		case StatusSynchronized:
			s.Synchronized++
		case StatusDuplicateIgnored:
			s.Duplicates++
		default:
			s.Errors++
		}
	}
	return s
}

// RetentionPolicy is the maximum age of one record class.
type RetentionPolicy struct {
	Class      Class
	MaxAgeDays int
}

// DefaultRetention returns the standard audit and access windows.
func DefaultRetention() []RetentionPolicy {
	return []RetentionPolicy{
		{Class: ClassAudit, MaxAgeDays: DefaultAuditRetentionDays},
		{Class: ClassAccess, MaxAgeDays: DefaultAccessRetentionDays},
	}
}

// PurgeReport describes one retention run.
type PurgeReport struct {
	ExecutedAt    time.Time       `json:"executed_at"`
	RemovedCounts map[Class]int64 `json:"removed_counts"`
	Errors        []string        `json:"errors"`
	// Failed lists the classes behind Errors.
	Failed []Class `json:"-"`
}
