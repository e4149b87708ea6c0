// Package ratelimit gates outgoing requests.
//
// Spacing is the global floor: every request waits until at least the
// configured interval (plus jitter) has passed since the previous slot, no
// matter how many workers share it. Budget adds an optional per-minute token
// bucket on top, and Chain applies both in order.
//
//	gate := ratelimit.Chain{
//		ratelimit.NewSpacing(500*time.Millisecond, 250*time.Millisecond),
//		ratelimit.NewBudget(90, 5),
//	}
//	if err := gate.Wait(ctx); err != nil {
//		return err // cancelled while waiting
//	}
package ratelimit
