package credential

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies a rejected credential.
type Reason string

const (
	ReasonMalformed     Reason = "malformed"
	ReasonBadSignature  Reason = "bad_signature"
	ReasonExpired       Reason = "expired"
	ReasonWrongIssuer   Reason = "wrong_issuer"
	ReasonWrongAudience Reason = "wrong_audience"
	// ReasonKeyUnavailable means the trusted key could not be obtained,
	// for example because the remote key set was unreachable. Only a
	// Verifier with a remote KeyResolver produces it.
	ReasonKeyUnavailable Reason = "key_unavailable"
)

// Sentinel errors, one per Reason, for callers that prefer errors.Is.
var (
	ErrMalformed      = errors.New("credential malformed")
	ErrBadSignature   = errors.New("credential signature invalid")
	ErrExpired        = errors.New("credential expired")
	ErrWrongIssuer    = errors.New("credential issuer mismatch")
	ErrWrongAudience  = errors.New("credential audience mismatch")
	ErrKeyUnavailable = errors.New("verification key unavailable")
)

var reasonErrors = map[Reason]error{
	ReasonMalformed:      ErrMalformed,
	ReasonBadSignature:   ErrBadSignature,
	ReasonExpired:        ErrExpired,
	ReasonWrongIssuer:    ErrWrongIssuer,
	ReasonWrongAudience:  ErrWrongAudience,
	ReasonKeyUnavailable: ErrKeyUnavailable,
}

// Claims are the token claims this system reads.
type Claims struct {
	jwt.RegisteredClaims
	// Email is the contact identifier the request gate authorises against.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Identifier returns the contact identifier used for authorisation,
// falling back to the subject when no email claim is present.
func (c *Claims) Identifier() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// Outcome is the result of verifying one credential. Exactly one of
// Claims (when Valid) or Reason (when not) is meaningful.
type Outcome struct {
	Valid   bool
	Subject string
	Claims  *Claims
	Reason  Reason
	// Detail is the underlying parser error. It is for server-side logs
	// only and must never be returned to a network caller.
	Detail error
}

func valid(c *Claims) Outcome {
	return Outcome{Valid: true, Subject: c.Subject, Claims: c}
}

func invalid(r Reason, detail error) Outcome {
	return Outcome{Reason: r, Detail: detail}
}

// Err returns nil for a valid outcome, otherwise the sentinel for its Reason.
func (o Outcome) Err() error {
	if o.Valid {
		return nil
	}
	if o.Detail != nil {
		return fmt.Errorf("%w: %w", reasonErrors[o.Reason], o.Detail)
	}
	return reasonErrors[o.Reason]
}
