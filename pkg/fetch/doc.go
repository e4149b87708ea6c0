// Package fetch is the rate-limited HTTP client used for every outgoing request.
//
// Each call returns an Outcome rather than an error. Rate-limit responses,
// server errors and network failures are retried with backoff (Retry-After
// wins when the server sends it); other 4xx responses and redirects that leave
// the configured scope return immediately. When attempts run out the result is
// KindExhausted, a soft failure the caller may retry in a later run.
package fetch
