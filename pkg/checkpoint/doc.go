// Package checkpoint persists a single progress snapshot for crash recovery.
//
// The checkpoint records the most recently started unit, the number of units
// finished so far and the cumulative run counters. It is overwritten in place
// (temp file, fsync, rename) on every save, so a reader sees either the old or
// the new snapshot and never a partial one.
//
// A checkpoint that cannot be decoded is moved aside to
// checkpoint.json.backup.<timestamp> and treated as absent, so a damaged file
// causes a cold start instead of a failed run. The orchestrator deletes the
// checkpoint only after a pass that exhausted its unit source without being
// interrupted.
package checkpoint
