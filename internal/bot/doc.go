// ABOUTME: Package documentation for the keydrop Matrix bot
// ABOUTME: Describes command handling, file uploads, and encryption support

// Package bot connects a Matrix account to the issuance service.
//
// The bot answers prefixed commands ("!kd get", "!kd revoke <token>", ...)
// in rooms it has been invited to, optionally filtered by an allowed-rooms
// list. Replies are written in markdown and rendered to Matrix HTML.
// Per-command authorization lives in the issuer; the bot only decides what
// to say when an operation is refused.
//
// Admins refill the pool two ways: inline, with credential lines following
// "upload" in the same message, or by attaching a plain text file. File
// messages from non-admins are ignored without a reply.
//
// When a crypto database path is configured the bot enables end-to-end
// encryption through mautrix's crypto helper, verifying with the recovery
// key when one is set. The bot can also feed an audit room: AuditSink
// returns a sink that mirrors issuance activity into a Matrix room for
// operators to watch.
package bot
