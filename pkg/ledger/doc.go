// Package ledger holds the small durable files that track unit disposition.
//
// A Set is an append-only, line-per-item file loaded into memory on open; it
// backs the seen-ID, invalid-unit, done and processed ledgers. A List is an
// ordered file rewritten as a whole (the keyword todo list). Marker holds a
// single value and FailureLog records units that need operator follow-up.
//
// Every whole-file write goes through WriteFileAtomic, so readers never see a
// half-written file after a crash.
package ledger
