// Package jwks keeps a cached copy of an issuing authority's published
// JSON Web Key Set and resolves token key ids against it.
//
// The cache refreshes when its copy is older than the refresh interval and
// when a token names a key id it has not seen, which is how key rotation
// reaches the server without a restart. Unknown-kid refreshes are rate
// limited so a stream of forged kids cannot hammer the authority, and
// concurrent refreshes collapse into one request.
//
// A failed fetch is returned as an error; callers must reject the request
// rather than fall back to stale or absent keys.
package jwks
