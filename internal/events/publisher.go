package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// StreamFinance is the JetStream stream holding finance domain events
const StreamFinance = "MARKETPLACE_FINANCE"

// Publisher sends outbox events to NATS. It publishes through JetStream when the
// stream is available and falls back to core NATS otherwise.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the finance stream exists
func NewPublisher(url, subjectPrefix string, logger *logrus.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("NATS_URL not set")
	}
	entry := logger.WithField("component", "events.publisher")

	conn, err := nats.Connect(url,
		nats.Name("marketplace-finance-service"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				entry.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			entry.WithField("url", c.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &Publisher{conn: conn, logger: entry}

	js, err := conn.JetStream()
	if err != nil {
		entry.WithError(err).Warn("JetStream unavailable, publishing on core NATS")
		return p, nil
	}
	if err := ensureStream(js, StreamSubjects(subjectPrefix)); err != nil {
		entry.WithError(err).Warn("Failed to ensure finance stream, publishing on core NATS")
		return p, nil
	}
	p.js = js
	return p, nil
}

// StreamSubjects returns the wildcard captured by the finance stream
func StreamSubjects(subjectPrefix string) []string {
	prefix := strings.TrimSuffix(subjectPrefix, ".")
	if prefix == "" {
		return []string{"order.>", "seller.>", "finance.>"}
	}
	return []string{prefix + ".>"}
}

func ensureStream(js nats.JetStreamContext, subjects []string) error {
	if _, err := js.StreamInfo(StreamFinance); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamFinance,
		Subjects:   subjects,
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	return err
}

// Publish sends one event
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.js != nil {
		if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", subject, err)
		}
		return nil
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains the connection
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.WithError(err).Warn("Failed to drain NATS connection")
		p.conn.Close()
	}
}
