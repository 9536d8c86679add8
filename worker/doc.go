// Package worker runs queue jobs: a poll loop with a handler registry, a
// reaper for stale locks and a janitor for retention and queue depth.
package worker
