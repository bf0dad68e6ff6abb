// Package auth verifies the signed handshake credential that a socket
// connection presents and turns it into a domain.Claim.
//
// Tokens are HMAC-signed JWTs sharing one secret with the token issuer. The
// issuer lives outside this service; Issuer exists for tests and local tooling.
package auth
