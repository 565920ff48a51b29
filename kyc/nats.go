package kyc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultApprovalSubject is the NATS subject approvals are published on.
const DefaultApprovalSubject = "onboarding.kyc.approved"

// NATSPublisher publishes approvals as JSON messages.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// DialNATS connects to the NATS server at url.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("onboardd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("kyc: connect nats: %w", err)
	}
	if subject == "" {
		subject = DefaultApprovalSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) PublishApproval(_ context.Context, a Approval) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
