// Package reconcile ingests records captured by stations and operators
// into the central store so that retries, offline buffering and concurrent
// writers never produce duplicates.
//
// Two policies share one mechanism:
//
//   - Append-only classes (audit, access) insert by caller-generated id if
//     absent. A replayed id reports duplicate_ignored and leaves the stored
//     row untouched, so a client may resubmit a whole batch after a timeout.
//   - Consent records are replaced by id. The latest submission wins, which
//     is how a grant is later withdrawn.
//
// Each entry in a batch is processed on its own; one failure never rolls
// back its siblings. Retention purge removes rows older than each class's
// maximum age and is authorised by a shared key.
package reconcile
