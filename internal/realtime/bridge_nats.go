package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const natsEventSubject = "deskwire.events"

// NATSBridge mirrors hub events over a NATS core subject.
type NATSBridge struct {
	nc      *nats.Conn
	subject string
}

// NewNATSBridge connects to a NATS server.
func NewNATSBridge(url, name string) (*NATSBridge, error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSBridge{nc: nc, subject: natsEventSubject}, nil
}

// Publish mirrors a frame to the NATS subject.
func (b *NATSBridge) Publish(_ context.Context, frame BusFrame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bus frame: %w", err)
	}
	if err := b.nc.Publish(b.subject, raw); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Run consumes frames from the NATS subject until ctx is cancelled.
func (b *NATSBridge) Run(ctx context.Context, deliver func(BusFrame)) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var frame BusFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			slog.Warn("Dropping malformed bus frame", "error", err)
			return
		}
		deliver(frame)
	})
	if err != nil {
		return fmt.Errorf("subscribe to nats: %w", err)
	}
	defer func() {
		if unsubErr := sub.Unsubscribe(); unsubErr != nil {
			slog.Debug("Failed to unsubscribe from nats", "error", unsubErr)
		}
	}()

	<-ctx.Done()
	return nil
}

// Close drains and releases the NATS connection.
func (b *NATSBridge) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
