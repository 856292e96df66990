// Package issuer coordinates credential issuance for keydrop.
//
// # Flow
//
// Issue is the central operation:
//
//  1. Claim the oldest unclaimed pool entry (atomic, storage-enforced).
//  2. Parse the entry into login and secret at the first colon.
//  3. Generate a fresh random access token.
//  4. Record the token in the ledger.
//  5. Emit an audit event and hand back the access link.
//
// The claim is the commit point: after it, no other caller can receive the
// same entry. If the ledger insert fails the credential is re-enqueued at
// the back of the pool (best effort) and the failure is audited, trading
// strict FIFO position for not losing supply. The system prefers at-most-once
// delivery: a credential is never handed to two callers, even if that means
// an occasional failed request while stock remains.
//
// # Authorization
//
// Upload, Revoke, Info, List, and Search require the actor to be on the
// admin allow-list and fail with ErrPermissionDenied otherwise. Stock
// follows the stock_public setting. Issue and Resolve are open; surfaces
// gate them by room membership or by not exposing them.
package issuer
