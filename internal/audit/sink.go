package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

type eventWriter interface {
	LogEvent(ctx context.Context, event Event) error
}

// AsyncSink queues audit entries and writes them on a background goroutine.
// Callers never block on the database; when the queue is full the entry is logged and dropped.
type AsyncSink struct {
	writer  eventWriter
	logger  *logging.Logger
	queue   chan Event
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// NewAsyncSink creates a sink with the given queue size.
func NewAsyncSink(writer eventWriter, logger *logging.Logger, queueSize int) *AsyncSink {
	if logger == nil {
		logger = logging.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AsyncSink{
		writer:  writer,
		logger:  logger,
		queue:   make(chan Event, queueSize),
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record implements scheduling.AuditSink.
func (s *AsyncSink) Record(_ context.Context, entry scheduling.AuditEntry) {
	details, err := json.Marshal(entry.Details)
	if err != nil || entry.Details == nil {
		details = json.RawMessage(`{}`)
	}
	evt := Event{
		Category:   entry.Category,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		ActorID:    entry.ActorID,
		Details:    details,
		CreatedAt:  s.now(),
	}
	select {
	case s.queue <- evt:
	default:
		s.logger.Warn("audit queue full, dropping entry", "action", entry.Action, "target_id", entry.TargetID)
	}
}

// Start drains the queue until ctx is cancelled, then flushes what is left.
func (s *AsyncSink) Start(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.queue:
			s.write(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-s.queue:
					s.write(evt)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Start has returned.
func (s *AsyncSink) Wait() {
	s.wg.Wait()
}

func (s *AsyncSink) write(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.LogEvent(ctx, evt); err != nil {
		s.logger.Error("audit write failed", "error", err, "action", evt.Action, "target_id", evt.TargetID)
	}
}

var _ scheduling.AuditSink = (*AsyncSink)(nil)
