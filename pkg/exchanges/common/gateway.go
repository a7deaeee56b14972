package common

import "context"

// Venue abstracts a trading venue.
//
// Orders are keyed by the client id carried in OrderRequest.ClientID; Cancel takes
// that id. Place and Cancel return a *TransportError for transient faults (retryable) and a
// *RejectionError when the venue refuses the request. Fills delivers execution
// reports for accepted orders in venue-reported order.
type Venue interface {
	Place(ctx context.Context, req OrderRequest) (Ack, error)
	Cancel(ctx context.Context, orderID string) error
	Fills() <-chan Fill
}
