// Package scene holds the user-initiated flows that sit beside
// reconciliation: creating a new scene document linked to a thread, and
// posting into a scene's thread as one of the user's muses.
//
// Both flows report problems as engine notices. Unlike a bulk pass, the
// user asked for this one thing, so validation failures are worth telling
// them about.
package scene
