package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lkaplan/livecomp/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds configuration for the NATS event consumer.
type ConsumerConfig struct {
	URL           string
	SubjectPrefix string // e.g. "livecomp"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns default NATS consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "livecomp",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer subscribes to every division subject and forwards the
// envelopes to the connection manager. Delivery to viewers is
// fire-and-forget; gaps are recovered by snapshot refresh, not replay.
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	sub               *nats.Subscription
	config            ConsumerConfig
}

// NewEventConsumer connects to NATS and subscribes to the division
// event subjects.
func NewEventConsumer(cm *ConnectionManager, config ConsumerConfig) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	ec := &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		config:            config,
	}

	subject := config.SubjectPrefix + ".division.>"
	sub, err := nc.Subscribe(subject, ec.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	ec.sub = sub

	log.Info().Str("subject", subject).Msg("event consumer subscribed")
	return ec, nil
}

func (ec *EventConsumer) handleMessage(msg *nats.Msg) {
	var ev events.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode event envelope")
		return
	}

	ec.connectionManager.BroadcastToDivision(ev.DivisionID, msg.Data)
}

// Close drains the subscription and closes the NATS connection.
func (ec *EventConsumer) Close() error {
	if ec.sub != nil {
		if err := ec.sub.Drain(); err != nil {
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	ec.nc.Close()
	return nil
}
