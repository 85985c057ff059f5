package publisher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Metrics receives publish outcomes
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// PositionPublisher fans out accepted bus positions
type PositionPublisher interface {
	PublishPosition(event models.PositionEvent) error
	Close()
}

// NATSPublisher publishes positions on "<prefix>.<routeId>.position"
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	metrics Metrics
	logger  *logrus.Logger
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(url, prefix string, m Metrics, logger *logrus.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker-backend"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	if prefix == "" {
		prefix = "bus"
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), metrics: m, logger: logger}, nil
}

// Subject returns the subject used for a route
func (p *NATSPublisher) Subject(routeID string) string {
	return PositionSubject(p.prefix, routeID)
}

// PublishPosition publishes one position event as JSON
func (p *NATSPublisher) PublishPosition(event models.PositionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}
	err = p.nc.Publish(p.Subject(event.RouteID), payload)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish position: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.WithError(err).Warn("NATS drain failed")
		p.nc.Close()
	}
}

// NoopPublisher is used when NATS_URL is not set
type NoopPublisher struct{}

// PublishPosition does nothing
func (NoopPublisher) PublishPosition(models.PositionEvent) error { return nil }

// Close does nothing
func (NoopPublisher) Close() {}

// PositionSubject builds "<prefix>.<routeId>.position"
func PositionSubject(prefix, routeID string) string {
	return fmt.Sprintf("%s.%s.position", subjectToken(prefix), subjectToken(routeID))
}

// subjectToken makes s safe as a single NATS subject token
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
