package station

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// maxBackoffFactor caps the retry delay at this multiple of the interval.
const maxBackoffFactor = 16

// Submitter sends a batch to the server. *Client satisfies it.
type Submitter interface {
	SubmitAccessEvents(ctx context.Context, entries []reconcile.AuditLogEntry) ([]reconcile.Result, error)
}

// ShipReport describes one shipping cycle.
type ShipReport struct {
	Attempted int
	Shipped   int
	Failed    int
}

// Shipper forwards pending outbox entries to the server.
type Shipper struct {
	outbox    *Outbox
	client    Submitter
	interval  time.Duration
	batchSize int
	logger    *logging.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewShipper creates a shipper but does not start it.
func NewShipper(outbox *Outbox, client Submitter, interval time.Duration, batchSize int, logger *logging.Logger) *Shipper {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Shipper{
		outbox:    outbox,
		client:    client,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With("component", "shipper"),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// ShipOnce submits one batch of pending entries. Entries the server stored
// (synchronized or duplicate_ignored) are marked shipped; entries it
// rejected stay pending for the next cycle. A transport or server error
// leaves every entry pending and is returned.
func (s *Shipper) ShipOnce(ctx context.Context) (ShipReport, error) {
	entries, err := s.outbox.Pending(ctx, s.batchSize)
	if err != nil {
		return ShipReport{}, err
	}
	if len(entries) == 0 {
		return ShipReport{}, nil
	}

	report := ShipReport{Attempted: len(entries)}
	results, err := s.client.SubmitAccessEvents(ctx, entries)
	if err != nil {
		return report, err
	}

	var shipped []string
	for _, r := range results {
		if r.Status.Succeeded() {
			shipped = append(shipped, r.ID)
			continue
		}
		report.Failed++
		if err := s.outbox.MarkFailed(ctx, r.ID, r.Error); err != nil {
			s.logger.Error("recording failed entry", "id", r.ID, "error", err)
		}
	}

	if err := s.outbox.MarkShipped(ctx, shipped, s.now()); err != nil {
		return report, err
	}
	report.Shipped = len(shipped)
	return report, nil
}

// Start ships immediately, then every interval. After a failed cycle the
// delay doubles up to maxBackoffFactor times the interval.
func (s *Shipper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.logger.Info("shipper started", "interval", s.interval.String(), "batch_size", s.batchSize)
}

// Stop signals the shipper to exit and waits for it.
func (s *Shipper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Shipper) loop(ctx context.Context) {
	defer close(s.done)

	delay := s.interval
	for {
		report, err := s.ShipOnce(ctx)
		switch {
		case err != nil:
			delay = nextBackoff(delay, s.interval)
			s.logger.Warn("shipping failed", "error", err, "retry_in", delay.String())
		case report.Attempted > 0:
			delay = s.interval
			s.logger.Info("shipped access events", "shipped", report.Shipped, "failed", report.Failed)
		default:
			delay = s.interval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func nextBackoff(current, base time.Duration) time.Duration {
	next := current * 2
	if limit := base * maxBackoffFactor; next > limit {
		return limit
	}
	return next
}
