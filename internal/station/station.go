package station

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
	"github.com/nerrad567/gray-logic-access/internal/scanner"
)

// Audit actions written by the station.
const (
	ActionGranted = "access.granted"
	ActionDenied  = "access.denied"
)

// unknownActor marks a denied scan whose holder could not be identified.
const unknownActor = "unknown"

// Config describes one station.
type Config struct {
	ID        string
	Key       *ecdsa.PublicKey
	Issuer    string
	Audience  string
	Scanner   scanner.Config
	UserAgent string
}

// Decision is the result of one scanned credential.
type Decision struct {
	Frame   scanner.Frame
	Outcome credential.Outcome
	Entry   reconcile.AuditLogEntry
}

// Granted reports whether the credential was accepted.
func (d Decision) Granted() bool {
	return d.Outcome.Valid
}

// Station turns keystrokes into access decisions. It is not safe for
// concurrent use; one goroutine owns the input stream.
type Station struct {
	cfg    Config
	outbox *Outbox
	disamb *scanner.Disambiguator
	logger *logging.Logger

	frame *scanner.Frame
}

// New creates a Station writing decisions to outbox.
func New(cfg Config, outbox *Outbox, logger *logging.Logger) *Station {
	s := &Station{
		cfg:    cfg,
		outbox: outbox,
		logger: logger.With("component", "station", "station_id", cfg.ID),
	}
	s.disamb = scanner.New(cfg.Scanner, func(f scanner.Frame) { s.frame = &f })
	return s
}

// Keystroke feeds one keystroke. When it completes a scanner frame the
// credential is verified and recorded, and the decision is returned.
func (s *Station) Keystroke(ctx context.Context, k scanner.Key, fromTextField bool, now time.Time) (*Decision, error) {
	s.disamb.OnKeystroke(k, fromTextField, now)
	if s.frame == nil {
		return nil, nil
	}
	f := *s.frame
	s.frame = nil

	d := s.decide(f)
	if err := s.outbox.Add(ctx, d.Entry); err != nil {
		return &d, err
	}
	return &d, nil
}

// decide verifies the frame at its end instant and builds the audit entry.
func (s *Station) decide(f scanner.Frame) Decision {
	out := credential.Verify(f.Text, s.cfg.Key, s.cfg.Issuer, s.cfg.Audience, f.End)

	state := map[string]any{"scan_ms": f.End.Sub(f.Start).Milliseconds()}
	action, actorID := ActionDenied, unknownActor
	if out.Valid {
		action = ActionGranted
		actorID = out.Claims.Identifier()
		state["subject"] = out.Subject
		s.logger.Info("access granted", "identifier", actorID)
	} else {
		state["reason"] = string(out.Reason)
		s.logger.Info("access denied", "reason", out.Reason, "detail", out.Detail)
	}

	after, _ := json.Marshal(state) //nolint:errcheck // strings and ints always marshal

	return Decision{
		Frame:   f,
		Outcome: out,
		Entry: reconcile.AuditLogEntry{
			ID:              uuid.NewString(),
			Timestamp:       f.End.UTC(),
			ActorIdentifier: actorID,
			Action:          action,
			EntityType:      "station",
			EntityID:        s.cfg.ID,
			AfterState:      after,
			OriginAddress:   s.cfg.ID,
			UserAgent:       s.cfg.UserAgent,
		},
	}
}

// Describe renders a decision for the operator console. The specific
// credential reason is shown here and nowhere on the network.
func Describe(d Decision) string {
	if d.Granted() {
		return fmt.Sprintf("ACCESS GRANTED  %s", d.Entry.ActorIdentifier)
	}
	return fmt.Sprintf("ACCESS DENIED   %s", d.Outcome.Reason)
}
