package events

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/gate"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// Broker publishes JSON payloads. *mqtt.Client satisfies it.
type Broker interface {
	PublishJSON(topic string, v any) error
}

// Metrics writes measurements. *influxdb.Client satisfies it.
type Metrics interface {
	WriteSyncBatch(class string, submitted, synchronized, duplicates, failed int, at time.Time)
	WriteRetentionPurge(class string, removed int64, failed bool, at time.Time)
	WriteGateRejection(code string, at time.Time)
}

// DeniedEvent is the bus payload for a forbidden request.
type DeniedEvent struct {
	Identifier string    `json:"identifier"`
	Subject    string    `json:"subject"`
	Origin     string    `json:"origin"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	At         time.Time `json:"at"`
}

// Publisher implements reconcile.Observer.
type Publisher struct {
	broker  Broker
	metrics Metrics
	topics  mqtt.Topics
	logger  *logging.Logger
}

var _ reconcile.Observer = (*Publisher)(nil)

// New creates a Publisher for a site. broker and metrics may be nil.
func New(site string, broker Broker, metrics Metrics, logger *logging.Logger) *Publisher {
	return &Publisher{
		broker:  broker,
		metrics: metrics,
		topics:  mqtt.Topics{Site: site},
		logger:  logger.With("component", "events"),
	}
}

// BatchReconciled publishes a batch summary and records its counts.
func (p *Publisher) BatchReconciled(_ context.Context, sum reconcile.BatchSummary) {
	if p.metrics != nil {
		p.metrics.WriteSyncBatch(string(sum.Class), sum.Submitted, sum.Synchronized, sum.Duplicates, sum.Errors, sum.At)
	}
	p.publish(p.topics.Sync(string(sum.Class)), sum)
}

// Purged publishes a purge report and records per-class removals. A
// class that failed is recorded with failed set.
func (p *Publisher) Purged(_ context.Context, report reconcile.PurgeReport) {
	if p.metrics != nil {
		for class, n := range report.RemovedCounts {
			p.metrics.WriteRetentionPurge(string(class), n, false, report.ExecutedAt)
		}
		for _, class := range report.Failed {
			p.metrics.WriteRetentionPurge(string(class), 0, true, report.ExecutedAt)
		}
	}
	p.publish(p.topics.Retention(), report)
}

// Denied publishes a forbidden request.
func (p *Publisher) Denied(_ context.Context, a gate.DeniedAttempt) {
	p.publish(p.topics.Denied(), DeniedEvent{
		Identifier: a.Identifier,
		Subject:    a.Subject,
		Origin:     a.Origin,
		Method:     a.Method,
		Path:       a.Path,
		At:         a.At,
	})
}

// Rejected counts a gate rejection of any code.
func (p *Publisher) Rejected(code gate.Code, at time.Time) {
	if p.metrics != nil {
		p.metrics.WriteGateRejection(string(code), at)
	}
}

func (p *Publisher) publish(topic string, v any) {
	if p.broker == nil {
		return
	}
	if err := p.broker.PublishJSON(topic, v); err != nil {
		p.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
