// Package trigger holds the sources that start reconciliation passes on
// their own: a cron scheduler and a filesystem watcher over the scenes
// folder. Both feed an Enqueuer, normally the engine's intake queue, and
// never run passes themselves.
package trigger
