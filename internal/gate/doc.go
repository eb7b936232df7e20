// Package gate decides whether an inbound request may reach a protected
// route.
//
// A decision has two strictly separate steps. Verification proves the
// bearer credential was issued by the trusted authority (package
// credential, with keys from package jwks). Authorisation then checks the
// verified contact identifier against an allow-list of domains and
// individual identifiers. A failure in the first step is Unauthenticated;
// a failure in the second is Forbidden and is recorded for audit review.
//
// The gate writes nothing itself. Middleware hands every rejection to a
// caller-supplied RejectFunc so the HTTP layer owns the error body.
package gate
