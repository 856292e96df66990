// Package auth provides authentication and authorization for keydrop's
// admin surfaces.
//
// # Model
//
// There is no account system. Admin capability is membership in a pre-shared
// allow-list of opaque actor IDs loaded from configuration. The same list
// gates both the Matrix bot commands and the HTTP admin API: bot actors are
// identified by their Matrix user ID, API actors by the "sub" claim of their
// bearer token.
//
// # Tokens
//
// API clients authenticate with JWT bearer tokens signed HS256 with the
// configured api_secret:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("ops@example.com", 24*time.Hour)
//	actorID, err := verifier.Verify(token)
//
// Tokens carry sub, iat, and exp claims. Verification rejects unexpected
// signing algorithms, expired tokens, and tokens missing the sub claim.
//
// # Middleware
//
// HTTPAuthMiddleware extracts and verifies the bearer token and attaches an
// AuthContext to the request context. RequireAdminHTTP then rejects any actor
// that is not on the allow-list. Handlers read the actor with FromContext.
package auth
