package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles Place and Cancel calls to a venue's request budget.
type RateLimited struct {
	venue   Venue
	limiter *rate.Limiter
}

// NewRateLimited wraps v with a token bucket of perSecond requests and the given burst.
// A non-positive perSecond disables throttling.
func NewRateLimited(v Venue, perSecond float64, burst int) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{venue: v, limiter: rate.NewLimiter(limit, burst)}
}

// Place waits for a token and forwards the request. A wait aborted by ctx is
// reported as a transport error so callers can back off.
func (r *RateLimited) Place(ctx context.Context, req OrderRequest) (Ack, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Ack{}, &TransportError{Op: "place", Err: err}
	}
	return r.venue.Place(ctx, req)
}

func (r *RateLimited) Cancel(ctx context.Context, orderID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: "cancel", Err: err}
	}
	return r.venue.Cancel(ctx, orderID)
}

func (r *RateLimited) Fills() <-chan Fill {
	return r.venue.Fills()
}
