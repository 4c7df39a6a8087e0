package transport

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mcpdock/mcpdock/pkg/errors"
)

// Relay pumps messages from src to dst until either side fails or the
// context ends. Messages pass through untouched, identifiers included.
func Relay(ctx context.Context, src, dst Adapter) error {
	if !src.Capabilities().Has(CanReceive) {
		return errors.NewUnsupportedOperationError("relay source cannot receive", nil)
	}
	if !dst.Capabilities().Has(CanSend) {
		return errors.NewUnsupportedOperationError("relay sink cannot send", nil)
	}

	for {
		msg, err := src.Receive(ctx)
		if err != nil {
			return err
		}
		if err := dst.Send(ctx, msg); err != nil {
			return err
		}
	}
}

// Pump relays in both directions between two duplex adapters, returning the
// first error either direction hits.
func Pump(ctx context.Context, a, b Adapter) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return Relay(ctx, a, b) })
	group.Go(func() error { return Relay(ctx, b, a) })
	return group.Wait()
}
