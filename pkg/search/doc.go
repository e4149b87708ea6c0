// Package search is the keyword discovery client for the encyclopedia search API.
//
// Every call first takes one unit from the daily quota; a refused quota is
// returned as errors.ErrQuotaExceeded without any request being sent. Requests
// go through the shared fetch client, so they obey the global rate limit and
// retry policy. A 400 response is treated as an empty result for that keyword.
package search
