// Package events fans access-server activity out to the message bus and
// the metrics store.
//
// A Publisher observes reconciled batches, retention purges and gate
// rejections. Either sink may be absent; a Publisher with neither is a
// no-op, so callers never need to nil-check it.
package events
