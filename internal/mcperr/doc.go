// Package mcperr defines the gateway's error taxonomy.
//
// Every failure that crosses a client-facing boundary is classified by a
// Kind. A Kind maps to exactly one JSON-RPC error code (used on MCP
// transports) and one HTTP status (used by the admin API), so the same
// condition is reported consistently regardless of surface.
//
// Errors carry an optional stable reason code (for example
// "FEDERATION_LOOP_DETECTED") that clients can branch on programmatically,
// while the message stays free-form and human-readable.
package mcperr
