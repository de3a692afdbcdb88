package ingest

import (
	"context"
	"fmt"

	"beacon/internal/broker"
	"beacon/internal/engine"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
	"beacon/pkg/retry"
)

// Runner bridges the source-event topic into the engine. Producers that
// are out of process publish the same shaped payloads the programmatic
// entry points take, and the runner feeds them through Evaluate.
type Runner struct {
	consumer broker.Consumer
	engine   engine.Engine
	topic    string
	logger   logger.Logger
}

func NewRunner(consumer broker.Consumer, eng engine.Engine, topic string, log logger.Logger) *Runner {
	return &Runner{
		consumer: consumer,
		engine:   eng,
		topic:    topic,
		logger:   log,
	}
}

// Run consumes until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Infow("Starting source event consumer", "topic", r.topic)
	return r.consumer.Consume(ctx, r.topic, r.handleEvent)
}

func (r *Runner) handleEvent(ctx context.Context, event models.SourceEvent) error {
	ctx = logging.WithEventID(ctx, event.ID)

	sourceType := rules.SourceType(event.SourceType)
	if !sourceType.Valid() {
		metrics.IngestEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		// Malformed events will never heal on retry; route to the DLQ.
		return retry.NewFatalError(fmt.Errorf("unknown source type '%s'", event.SourceType))
	}

	result, err := r.engine.Evaluate(ctx, engine.Input{
		SourceType: sourceType,
		SourceID:   event.SourceID,
		ClientID:   event.ClientID,
		Data:       event.Payload,
	})
	if err != nil {
		if result == nil {
			// The pass failed before any rule could claim a trigger, so
			// re-delivery cannot double-fire. Let the broker retry.
			metrics.IngestEventsTotal.WithLabelValues(event.SourceType, "failed").Inc()
			return retry.NewRetryableError(fmt.Errorf("evaluation pass failed: %w", err))
		}
		// Per-rule failures: rules that fired already claimed their
		// triggers, so a retry would suppress them and re-fire the rest
		// inconsistently. The commit happens, the failures are logged.
		r.logger.ErrorwCtx(ctx, "Evaluation pass completed with failures",
			"source_type", event.SourceType, "error", err)
	}
	metrics.IngestEventsTotal.WithLabelValues(event.SourceType, "processed").Inc()

	if result != nil && len(result.AlertsCreated) > 0 {
		r.logger.InfowCtx(ctx, "Source event evaluated",
			"source_type", event.SourceType,
			"alerts_created", len(result.AlertsCreated),
			"tasks_created", len(result.TasksCreated),
			"notifications_sent", len(result.NotificationsSent))
	}

	return nil
}
