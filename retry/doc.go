// Package retry implements the reconnection policy layer: retry-delay
// strategies, connection-racing strategies, an auto heuristic that
// classifies recent connection behavior, and an adaptive Thompson-
// sampling bandit that learns a per-server strategy preference across
// sessions via an on-disk profile cache.
//
// retry holds no reference to a live session or connection; it receives
// Attempt records after the fact and hands back a decision (delay,
// strategy, racing mode) for the next try. Wiring that decision into an
// actual dial is the session package's job.
package retry
