package scheduling

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/wolfman30/immigration-casework/internal/clock"
	"github.com/wolfman30/immigration-casework/internal/observability/metrics"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

var tracer = otel.Tracer("casework.internal.scheduling")

const (
	defaultBuffer          = 30 * time.Minute
	defaultDuration        = 60
	maxDurationMinutes     = 480
	defaultProposalTTL     = 48 * time.Hour
	defaultProposalLimit   = 2
	defaultCalendarTimeout = 5 * time.Second
	maxAvailabilityWindow  = 31 * 24 * time.Hour
	maxBufferMinutes       = 240
)

type settings struct {
	buffer          time.Duration
	defaultDuration int
	proposalTTL     time.Duration
	proposalLimit   int
	calendarTimeout time.Duration
	clock           clock.Clock
	logger          *logging.Logger
	audit           AuditSink
	auditLog        AuditLog
	metrics         *metrics.SchedulingMetrics
}

func newSettings(opts []Option) settings {
	s := settings{
		buffer:          defaultBuffer,
		defaultDuration: defaultDuration,
		proposalTTL:     defaultProposalTTL,
		proposalLimit:   defaultProposalLimit,
		calendarTimeout: defaultCalendarTimeout,
		clock:           clock.NewSystem(),
		logger:          logging.Default(),
		audit:           nopAuditSink{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures the scheduling services.
type Option func(*settings)

// WithBuffer sets the padding applied around every conflict check.
func WithBuffer(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.buffer = d
		}
	}
}

// WithDefaultDuration sets the length used when a booking omits one.
func WithDefaultDuration(minutes int) Option {
	return func(s *settings) {
		if minutes > 0 && minutes <= maxDurationMinutes {
			s.defaultDuration = minutes
		}
	}
}

// WithProposalTTL overrides how long a proposal stays open.
func WithProposalTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.proposalTTL = d
		}
	}
}

// WithProposalLimit overrides the lifetime cap of proposals per side.
func WithProposalLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.proposalLimit = n
		}
	}
}

func WithCalendarTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.calendarTimeout = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithAuditSink(a AuditSink) Option {
	return func(s *settings) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithAuditLog enables the appointment audit trail read path.
func WithAuditLog(l AuditLog) Option {
	return func(s *settings) {
		s.auditLog = l
	}
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
