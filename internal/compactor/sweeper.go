package compactor

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Sweeper periodically scans for conversations whose uncompacted tail
// crossed the threshold without a queued check, which happens when the
// process restarts between an append and its notification.
type Sweeper struct {
	expr      *cronexpr.Expression
	compactor *Compactor
	logger    *log.Logger
}

// NewSweeper parses the cron spec. An empty spec disables sweeping.
func NewSweeper(cronSpec string, c *Compactor, logger *log.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	if cronSpec == "" {
		return nil, nil
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{expr: expr, compactor: c, logger: logger}, nil
}

// Run blocks until the context is canceled, sweeping on every cron tick.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	for {
		next := s.expr.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.sweep(ctx)
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ids, err := s.compactor.store.ListNeedingCompaction(ctx, s.compactor.cfg.Threshold, 200)
	if err != nil {
		s.logger.Printf("sweep listing failed: %v", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Printf("sweep found %d conversation(s) over threshold", len(ids))
	}
	for _, id := range ids {
		s.compactor.Notify(id)
	}
}
