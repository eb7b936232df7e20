// Package station implements the badge station: it reads a shared input
// stream, picks out scanner frames, verifies each scanned credential
// offline against a trusted public key, and records the decision in a
// local outbox that a Shipper forwards to the access server.
//
// The station never holds a signing key and never stores the scanned
// token itself, only the decision and its reason.
package station
