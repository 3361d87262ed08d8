package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	streamName     = "SHIPPING_EVENTS"
	subjectPrefix  = "shipping"
	publishTimeout = 5 * time.Second
)

// Event types published by this service
const (
	EventRatesRequested     = "rates_requested"
	EventLabelPurchased     = "label_purchased"
	EventLabelStatusChanged = "label_status_changed"
	EventCatalogRefreshed   = "catalog_refreshed"
)

// ShippingEvent is the envelope for all published events
type ShippingEvent struct {
	Type      string                 `json:"type"`
	TenantID  string                 `json:"tenantId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher publishes shipping events to JetStream. A nil Publisher is safe
// to call; publishing becomes a no-op when NATS is not configured.
type Publisher struct {
	js     nats.JetStreamContext
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the shipping stream exists
func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring jetstream context: %w", err)
	}

	_, err = js.StreamInfo(streamName)
	if err == nats.ErrStreamNotFound {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", streamName, err)
	}

	return &Publisher{
		js:     js,
		conn:   conn,
		logger: logrus.WithField("component", "event-publisher"),
	}, nil
}

// Publish sends an event. Failures are logged, never propagated; event
// delivery must not fail the operation that produced the event.
func (p *Publisher) Publish(eventType, tenantID string, data map[string]interface{}) {
	if p == nil || p.js == nil {
		return
	}

	event := ShippingEvent{
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, eventType)
	if _, err := p.js.Publish(subject, payload, nats.AckWait(publishTimeout)); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to publish event")
	}
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
