// Package middleware provides HTTP middleware for the MCP gateway.
// These middleware functions handle security headers, request metrics,
// body size limits, and other cross-cutting concerns.
package middleware
