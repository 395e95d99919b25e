// Package events fans escrow lifecycle events out to NATS subjects and to
// connected WebSocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/escrow"
	"github.com/ModoriLabs/zk-escrow/internal/metrics"
)

// SubjectPrefix namespaces all published subjects, e.g.
// "escrow.intent.fulfilled".
const SubjectPrefix = "escrow"

// Envelope is the published wire format.
type Envelope struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// Bus implements escrow.EventSink. NATS and the hub are both optional;
// a nil Bus field simply disables that transport. Publishing never fails
// the escrow operation that triggered it.
type Bus struct {
	nc  *nats.Conn
	hub *Hub
	log *logrus.Entry
}

// NewBus builds the event fan-out.
func NewBus(nc *nats.Conn, hub *Hub, log *logrus.Logger) *Bus {
	return &Bus{
		nc:  nc,
		hub: hub,
		log: log.WithField("component", "event_bus"),
	}
}

// Connect dials NATS with the reconnect behaviour used in production.
func Connect(url string, log *logrus.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.NATSConnectionStatus.Set(0)
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			metrics.NATSConnectionStatus.Set(1)
			log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	return nc, nil
}

// Publish serializes the event once and hands it to every transport.
func (b *Bus) Publish(ctx context.Context, ev escrow.Event) {
	env := Envelope{
		ID:   uuid.NewString(),
		Type: ev.Type,
		At:   ev.At,
		Data: ev.Data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		b.log.WithError(err).WithField("type", ev.Type).Error("marshal event")
		return
	}

	if b.nc != nil {
		subject := SubjectPrefix + "." + ev.Type
		if err := b.nc.Publish(subject, payload); err != nil {
			metrics.EventsDropped.WithLabelValues("nats").Inc()
			b.log.WithError(err).WithField("subject", subject).Warn("publish event to NATS")
		} else {
			metrics.EventsPublished.WithLabelValues(ev.Type, "nats").Inc()
		}
	}

	if b.hub != nil {
		b.hub.Broadcast(payload)
		metrics.EventsPublished.WithLabelValues(ev.Type, "websocket").Inc()
	}
}
