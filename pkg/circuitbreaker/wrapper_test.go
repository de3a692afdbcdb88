package circuitbreaker

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/pkg/metrics"
)

func TestWrapper_Execute_CountsRequestsAndFailures(t *testing.T) {
	w := NewWrapper(DefaultConfig("delivery-test"))

	requestsBefore := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("delivery-test", "closed"))
	failuresBefore := testutil.ToFloat64(metrics.CircuitBreakerFailures.WithLabelValues("delivery-test"))

	result, err := w.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = w.Execute(func() (interface{}, error) { return nil, fmt.Errorf("gateway timeout") })
	require.Error(t, err)

	assert.Equal(t, requestsBefore+2, testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("delivery-test", "closed")))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(metrics.CircuitBreakerFailures.WithLabelValues("delivery-test")))
}

func TestWrapper_ExecuteWithContext_CountsThroughBreaker(t *testing.T) {
	w := NewWrapper(DefaultConfig("delivery-ctx-test"))

	requestsBefore := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("delivery-ctx-test", "closed"))

	_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	assert.Equal(t, requestsBefore+1, testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("delivery-ctx-test", "closed")))
}

func TestWrapper_ExecuteWithContext_CancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("delivery-cancel-test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.ExecuteWithContext(ctx, func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, context.Canceled)
}
