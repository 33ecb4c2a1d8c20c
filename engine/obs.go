package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	mutationSpanName    = "boardsync.mutation"
	mutationEventName   = "mutation.lifecycle"
	mutationEventDomain = "engine"
)

// mutationMetrics follows one optimistic mutation from begin to commit or
// rollback and emits a span plus a structured log entry at the end.
type mutationMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	op         string
	entityType string
	entityID   string
	attempts   int
	outcome    string
	coalesced  bool
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, op, entityType, entityID string) *mutationMetrics {
	tracer := otel.Tracer("boardsync/engine")
	_, span := tracer.Start(ctx, mutationSpanName, trace.WithAttributes(
		attribute.String("boardsync.mutation.op", op),
		attribute.String("boardsync.mutation.entity_type", entityType),
	))
	return &mutationMetrics{
		logger:     logger,
		span:       span,
		start:      time.Now(),
		op:         op,
		entityType: entityType,
		entityID:   entityID,
	}
}

func (m *mutationMetrics) SetAttempts(n int) {
	if m == nil || n < 0 {
		return
	}
	m.attempts = n
}

func (m *mutationMetrics) SetCoalesced() {
	if m == nil {
		return
	}
	m.coalesced = true
}

func (m *mutationMetrics) SetOutcome(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.outcome = outcome
}

// End closes the span and logs the lifecycle entry. A nil error with outcome
// "conflict" is still a success span: conflicts are routed, not failed.
func (m *mutationMetrics) End(err error) {
	if m == nil {
		return
	}
	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForOutcome(m.outcome, err)

	attrs := []attribute.KeyValue{
		attribute.String("boardsync.mutation.op", m.op),
		attribute.String("boardsync.mutation.entity_type", m.entityType),
		attribute.String("boardsync.mutation.outcome", m.outcome),
		attribute.Int("boardsync.mutation.attempts", m.attempts),
		attribute.Bool("boardsync.mutation.coalesced", m.coalesced),
		attribute.Float64("boardsync.mutation.total_ms", totalMs),
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(mutationEventName, trace.WithAttributes(attrs...))
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"op":              m.op,
		"entity_type":     m.entityType,
		"entity_id":       m.entityID,
		"outcome":         m.outcome,
		"attempts":        m.attempts,
		"coalesced":       m.coalesced,
		"total_ms":        totalMs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(mutationEventName)
	case "WARN":
		entry.Warn(mutationEventName)
	default:
		entry.Info(mutationEventName)
	}
}

// severityForOutcome maps mutation outcomes onto log severities. Conflicts
// are WARN: routed for resolution, not lost.
func severityForOutcome(outcome string, err error) (string, int) {
	switch {
	case outcome == "conflict":
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
