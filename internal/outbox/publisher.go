package outbox

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher delivers one outbox row to the event bus.
type Publisher interface {
	Publish(ctx context.Context, row Row) error
}

// NATSPublisher publishes event envelopes to a per-division subject,
// e.g. livecomp.division.<division-id>. Viewers subscribe per division
// to bound fan-out.
type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
}

func NewNATSPublisher(nc *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subjectPrefix: subjectPrefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, row Row) error {
	subject := fmt.Sprintf("%s.division.%s", p.subjectPrefix, row.DivisionID)
	if err := p.nc.Publish(subject, row.Payload); err != nil {
		return fmt.Errorf("publish %s to %s: %w", row.EventType, subject, err)
	}
	return nil
}

// DivisionSubject returns the subject an event for the given division
// is published on.
func DivisionSubject(prefix, divisionID string) string {
	return fmt.Sprintf("%s.division.%s", prefix, divisionID)
}
