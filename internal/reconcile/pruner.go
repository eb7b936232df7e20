package reconcile

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
)

// Pruner runs the retention purge in the background. An interval of 0
// disables it, leaving the maintenance endpoint as the only trigger.
type Pruner struct {
	svc      *Service
	interval time.Duration
	logger   *logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPruner creates a pruner but does not start it.
func NewPruner(svc *Service, interval time.Duration, logger *logging.Logger) *Pruner {
	return &Pruner{
		svc:      svc,
		interval: interval,
		logger:   logger.With("component", "pruner"),
		done:     make(chan struct{}),
	}
}

// Start purges immediately, then on every interval until ctx is cancelled
// or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("retention pruner disabled")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("retention pruner started", "interval", p.interval.String())
}

// Stop signals the pruner to exit and waits for it.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	p.svc.PurgeExpired(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.svc.PurgeExpired(ctx)
		}
	}
}
