package phiguard

import (
	"io"

	"github.com/MrEthical07/phiguard/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one audit record. ID and Timestamp are stamped by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink

// ChannelSink buffers events on a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapAuditSink writes each event as a structured log entry.
type ZapAuditSink = audit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapAuditSink logs events under the "audit" logger name.
func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return audit.NewZapSink(logger)
}
