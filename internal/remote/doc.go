// Package remote is the HTTP client for the bot service that tracks
// threads, muses and scenes.
//
// All identifiers cross this boundary as decimal strings. A 401 response is
// reported as *AuthError so callers can tell an invalid token apart from a
// transient failure; everything else is either a *StatusError or a
// transport error, and callers treat both as recoverable per call.
package remote
