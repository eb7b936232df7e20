// Package credential verifies ES256-signed badge and bearer credentials.
//
// Verification is pure: the caller injects the clock and the public key
// (or a KeyResolver for rotating key sets), and every outcome is returned
// as a value. The package never holds or needs a signing key.
//
// Outcomes are checked in a fixed order so operators see the most useful
// reason: malformed structure first, then signature, then expiry, then
// issuer, then audience.
//
// Usage:
//
//	out := credential.Verify(token, pub, "https://id.example.com", "badge", time.Now())
//	if !out.Valid {
//	    fmt.Println("rejected:", out.Reason)
//	}
package credential
