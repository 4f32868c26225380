// Package events publishes build and scoring notifications over NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audience-cli/internal/model"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "audience"

// BuildCompleted is emitted after a build is persisted.
type BuildCompleted struct {
	BuildID             string                 `json:"build_id"`
	AudienceID          string                 `json:"audience_id"`
	Mode                model.ConstructionMode `json:"construction_mode"`
	Included            int                    `json:"included"`
	EstimatedHouseholds int64                  `json:"estimated_households"`
	FallbackDistricts   int                    `json:"fallback_districts"`
	DurationMS          int64                  `json:"duration_ms"`
	Timestamp           time.Time              `json:"timestamp"`
}

// UnitsScored is emitted after an audience's geo units are replaced.
type UnitsScored struct {
	AudienceID    string                       `json:"audience_id"`
	ScaleAccuracy float64                      `json:"scale_accuracy"`
	Units         int                          `json:"units"`
	Tiers         map[model.ConfidenceTier]int `json:"tiers"`
	Timestamp     time.Time                    `json:"timestamp"`
}

// Publisher sends engine events. Implementations never fail the caller's
// operation: errors are logged.
type Publisher interface {
	BuildCompleted(ctx context.Context, ev BuildCompleted)
	UnitsScored(ctx context.Context, ev UnitsScored)
	Close()
}

// Subjects derives subject names from a prefix.
type Subjects struct {
	Prefix string
}

// Build returns "<prefix>.build.<mode>".
func (s Subjects) Build(mode model.ConstructionMode) string {
	return s.prefix() + ".build." + string(mode)
}

// UnitsScored returns "<prefix>.geounits.scored".
func (s Subjects) UnitsScored() string {
	return s.prefix() + ".geounits.scored"
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

var _ Conn = (*nats.Conn)(nil)

// NATSPublisher publishes JSON events to NATS core subjects.
type NATSPublisher struct {
	conn     Conn
	subjects Subjects
	log      *zap.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("audience-cli"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "events: connect %s", url)
	}
	return NewNATSPublisher(nc, prefix), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{
		conn:     conn,
		subjects: Subjects{Prefix: prefix},
		log:      zap.L().With(zap.String("component", "events")),
	}
}

// BuildCompleted implements Publisher.
func (p *NATSPublisher) BuildCompleted(_ context.Context, ev BuildCompleted) {
	p.publish(p.subjects.Build(ev.Mode), ev)
}

// UnitsScored implements Publisher.
func (p *NATSPublisher) UnitsScored(_ context.Context, ev UnitsScored) {
	p.publish(p.subjects.UnitsScored(), ev)
}

// Close implements Publisher.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

func (p *NATSPublisher) publish(subject string, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.log.Debug("event published", zap.String("subject", subject))
}

// NopPublisher discards events.
type NopPublisher struct{}

// BuildCompleted implements Publisher.
func (NopPublisher) BuildCompleted(context.Context, BuildCompleted) {}

// UnitsScored implements Publisher.
func (NopPublisher) UnitsScored(context.Context, UnitsScored) {}

// Close implements Publisher.
func (NopPublisher) Close() {}

// New returns a NATS publisher when url is set, otherwise a NopPublisher.
func New(url, prefix string) (Publisher, error) {
	if url == "" {
		return NopPublisher{}, nil
	}
	return Connect(url, prefix)
}
