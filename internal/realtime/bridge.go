package realtime

import (
	"context"
)

// BusFrame is the envelope mirrored over the cross-instance event bus.
// Origin identifies the publishing instance so it can skip its own frames
// on the receive path.
type BusFrame struct {
	Origin string `json:"origin"`
	Topic  string `json:"topic"`
	Event  Event  `json:"event"`
}

// Bridge connects the hub to an external pub/sub system so that multiple
// server instances fan events out to their own local subscribers. The
// transport contract stays the same: at-least-once to currently connected
// subscribers, no persistence of missed events.
type Bridge interface {
	// Publish mirrors a frame to the bus.
	Publish(ctx context.Context, frame BusFrame) error

	// Run consumes frames until ctx is cancelled, invoking deliver for
	// each one received.
	Run(ctx context.Context, deliver func(BusFrame)) error

	// Close releases the underlying connection.
	Close() error
}
