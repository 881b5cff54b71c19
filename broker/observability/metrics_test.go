package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordQueueConnectEvent(t *testing.T) {
	RecordQueueConnectEvent("amqp", "connected")
	count := testutil.ToFloat64(queueConnectEventsTotal.WithLabelValues("amqp", "connected"))
	assert.Greater(t, count, 0.0)
}

func TestRecordQueueMessage(t *testing.T) {
	RecordQueueMessage("mqtt", "broker.network.unit1.net1.uldata", "receive", "ok")
	count := testutil.ToFloat64(queueMessagesTotal.WithLabelValues("mqtt", "broker.network.unit1.net1.uldata", "receive", "ok"))
	assert.Greater(t, count, 0.0)
}

func TestRecordCacheLookupHitAndMiss(t *testing.T) {
	RecordCacheLookup("uldata", true)
	RecordCacheLookup("uldata", false)

	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("uldata", "hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("uldata", "miss"))
	assert.Greater(t, hits, 0.0)
	assert.Greater(t, misses, 0.0)
}

func TestRecordDispatchIncrementsCounterAndHistogram(t *testing.T) {
	RecordDispatch("uldata", "ok", 42)
	count := testutil.ToFloat64(dispatchEventsTotal.WithLabelValues("uldata", "ok"))
	assert.Greater(t, count, 0.0)
	assert.Greater(t, testutil.CollectAndCount(dispatchDurationSeconds), 0)
}

func TestRecordDispatchDifferentOutcomesTrackedSeparately(t *testing.T) {
	RecordDispatch("dldata", "malformed", 1)
	RecordDispatch("dldata", "store_error", 1)

	malformed := testutil.ToFloat64(dispatchEventsTotal.WithLabelValues("dldata", "malformed"))
	storeErr := testutil.ToFloat64(dispatchEventsTotal.WithLabelValues("dldata", "store_error"))
	assert.Greater(t, malformed, 0.0)
	assert.Greater(t, storeErr, 0.0)
}
