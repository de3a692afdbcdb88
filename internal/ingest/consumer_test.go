package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/broker"
	"beacon/internal/engine"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
	"beacon/pkg/retry"
)

type fakeConsumer struct {
	topic   string
	handler broker.HandlerFunc
}

func (c *fakeConsumer) Consume(_ context.Context, topic string, handler broker.HandlerFunc) error {
	c.topic = topic
	c.handler = handler
	return nil
}

func (c *fakeConsumer) Close() error          { return nil }
func (c *fakeConsumer) SetServiceName(string) {}

type stubEngine struct {
	input  engine.Input
	called bool
	result *engine.Result
	err    error
}

func (e *stubEngine) Evaluate(_ context.Context, input engine.Input) (*engine.Result, error) {
	e.called = true
	e.input = input
	return e.result, e.err
}

func TestRunner_Run_RegistersHandlerOnTopic(t *testing.T) {
	consumer := &fakeConsumer{}
	runner := NewRunner(consumer, &stubEngine{}, "source-events", logger.NopLogger())

	require.NoError(t, runner.Run(context.Background()))
	assert.Equal(t, "source-events", consumer.topic)
	assert.NotNil(t, consumer.handler)
}

func TestRunner_HandleEvent_FeedsEngine(t *testing.T) {
	consumer := &fakeConsumer{}
	eng := &stubEngine{result: &engine.Result{}}
	runner := NewRunner(consumer, eng, "source-events", logger.NopLogger())
	require.NoError(t, runner.Run(context.Background()))

	processedBefore := testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("payment_check", "processed"))

	err := consumer.handler(context.Background(), models.SourceEvent{
		ID:         "evt-1",
		SourceType: "payment_check",
		SourceID:   55,
		ClientID:   7,
		Payload:    map[string]interface{}{"paymentStatus": "overdue"},
	})
	require.NoError(t, err)

	require.True(t, eng.called)
	assert.Equal(t, rules.SourcePaymentCheck, eng.input.SourceType)
	assert.Equal(t, int64(55), eng.input.SourceID)
	assert.Equal(t, int64(7), eng.input.ClientID)
	assert.Equal(t, "overdue", eng.input.Data["paymentStatus"])
	assert.Equal(t, processedBefore+1, testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("payment_check", "processed")))
}

func TestRunner_HandleEvent_UnknownSourceTypeIsFatal(t *testing.T) {
	consumer := &fakeConsumer{}
	eng := &stubEngine{}
	runner := NewRunner(consumer, eng, "source-events", logger.NopLogger())
	require.NoError(t, runner.Run(context.Background()))

	rejectedBefore := testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("unknown", "rejected"))

	err := consumer.handler(context.Background(), models.SourceEvent{
		ID:         "evt-2",
		SourceType: "billing",
	})
	require.Error(t, err)

	// Fatal means the broker routes it to the DLQ instead of retrying.
	var fatal retry.FatalError
	assert.True(t, errors.As(err, &fatal))
	assert.False(t, eng.called)
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("unknown", "rejected")))
}

func TestRunner_HandleEvent_WholesaleFailureIsRetried(t *testing.T) {
	consumer := &fakeConsumer{}
	eng := &stubEngine{
		err: fmt.Errorf("failed to load active rules: connection refused"),
	}
	runner := NewRunner(consumer, eng, "source-events", logger.NopLogger())
	require.NoError(t, runner.Run(context.Background()))

	failedBefore := testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("competitive_scan", "failed"))

	err := consumer.handler(context.Background(), models.SourceEvent{
		ID:         "evt-4",
		SourceType: "competitive_scan",
		Payload:    map[string]interface{}{"hasCritical": true},
	})
	require.Error(t, err)

	// No rule claimed a trigger, so the event must come back around
	// instead of being committed and lost.
	var retryable retry.RetryableError
	assert.True(t, errors.As(err, &retryable))
	var fatal retry.FatalError
	assert.False(t, errors.As(err, &fatal))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.IngestEventsTotal.WithLabelValues("competitive_scan", "failed")))
}

func TestRunner_HandleEvent_RuleFailuresDoNotBlockCommit(t *testing.T) {
	consumer := &fakeConsumer{}
	eng := &stubEngine{
		result: &engine.Result{},
		err:    fmt.Errorf("rule r1: insert failed"),
	}
	runner := NewRunner(consumer, eng, "source-events", logger.NopLogger())
	require.NoError(t, runner.Run(context.Background()))

	err := consumer.handler(context.Background(), models.SourceEvent{
		ID:         "evt-3",
		SourceType: "competitive_scan",
		Payload:    map[string]interface{}{"hasCritical": true},
	})
	assert.NoError(t, err)
}
