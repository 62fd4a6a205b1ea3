package server

import (
	"log/slog"
	"strconv"

	"github.com/iat-probe/internal/iat"
)

// Sink receives session lifecycle and sample notifications. Implementations
// must be safe for concurrent use.
type Sink interface {
	SessionOpened(s *Session)
	Sampled(s *Session, sample iat.Sample, size int)
	SessionClosed(s *Session)
}

type nopSink struct{}

func (nopSink) SessionOpened(*Session)            {}
func (nopSink) Sampled(*Session, iat.Sample, int) {}
func (nopSink) SessionClosed(*Session)            {}

// Option configures a server
type Option func(*options)

type options struct {
	clock iat.Clock
	sink  Sink
}

// WithClock overrides the time source used to stamp received packets
func WithClock(clock iat.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithSink forwards every session event to sink
func WithSink(sink Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock: iat.SystemClock,
		sink:  nopSink{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// iatValue renders the IAT the same way the acknowledgment does
func iatValue(s iat.Sample) string {
	if s.First {
		return "null"
	}
	return strconv.FormatFloat(s.Millis(), 'f', 2, 64)
}

func logSample(logger *slog.Logger, s iat.Sample, message string) {
	if s.First {
		logger.Info("first packet, no IAT calculated",
			"packet", s.Index,
			"point", s.Point,
			"message", message,
		)
		return
	}
	logger.Info("packet received",
		"packet", s.Index,
		"iat_ms", iatValue(s),
		"point", s.Point,
		"message", message,
	)
}

func logSessionSummary(logger *slog.Logger, s *Session) {
	mean, jitter := s.Jitter()
	logger.Info("session closed",
		"packets", s.Packets(),
		"iat_mean", mean,
		"iat_jitter", jitter,
	)
}
