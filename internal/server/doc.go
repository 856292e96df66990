// ABOUTME: Package documentation for the keydrop HTTP server
// ABOUTME: Describes the resolve endpoint, admin API, and listener modes

// Package server exposes keydrop over HTTP.
//
// Two surfaces share one listener. The public surface is the capability
// endpoint the access links point at: GET /api/resolve/{token} exchanges
// a token for its credential and records the access. Knowing the token is
// the authorization. The admin surface under /api/admin/ mirrors the
// bot's admin commands and requires a Bearer JWT whose subject is on the
// admin allow-list; it is not registered at all when no API secret is
// configured.
//
// The listener is either plain TCP or a Tailscale tsnet node. With
// tailscale.funnel the node serves public HTTPS, which lets access links
// point straight at the keydrop host without a separate ingress.
package server
