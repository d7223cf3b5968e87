package scheduling

import (
	"context"
	"time"

	"github.com/wolfman30/immigration-casework/pkg/logging"
)

// Sweeper periodically expires reschedule proposals nobody answered.
// Lazy expiry in the negotiator stays authoritative; the sweeper only frees
// appointments sooner.
type Sweeper struct {
	negotiator *Negotiator
	logger     *logging.Logger
	interval   time.Duration
	batchSize  int
}

// NewSweeper creates a sweeper running every five minutes.
func NewSweeper(negotiator *Negotiator, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{negotiator: negotiator, logger: logger, interval: 5 * time.Minute, batchSize: 100}
}

func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *Sweeper) WithBatchSize(size int) *Sweeper {
	if size > 0 {
		s.batchSize = size
	}
	return s
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.negotiator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns how many proposals were expired.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.negotiator.ExpireStale(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("proposal sweep finished with errors", "expired", n, "error", err)
		return n
	}
	if n > 0 {
		s.logger.Info("proposal sweep expired proposals", "expired", n)
	}
	return n
}
