// Package sender delivers forwarded messages to configured
// destination addresses. Delivery failure is non-fatal to the caller;
// the pipeline records it on the event instead.
package sender

import "context"

// Sender sends one message to one destination address.
//
// Implementations may transparently split long text into multiple
// parts. An error covers the whole logical message: if any part fails,
// the send failed.
type Sender interface {
	Send(ctx context.Context, address, text string) error
}

// Func adapts a function to the Sender interface (used in tests).
type Func func(ctx context.Context, address, text string) error

func (f Func) Send(ctx context.Context, address, text string) error {
	return f(ctx, address, text)
}
