package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestRecordWorkflowStep(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordWorkflowStep("document_ingestion", "success", 200*time.Millisecond)
	c.RecordWorkflowStep("document_ingestion", "success", 100*time.Millisecond)
	c.RecordWorkflowStep("clarification_questions", "fatal", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		c.workflowStepsTotal.WithLabelValues("document_ingestion", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.workflowStepsTotal.WithLabelValues("clarification_questions", "fatal")))
}

func TestRecordSearchAndCache(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordSearch("vector", 50*time.Millisecond)
	c.RecordSearch("graph", 30*time.Millisecond)
	c.RecordSearch("vector", 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.searchesTotal.WithLabelValues("vector")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.searchesTotal.WithLabelValues("graph")))

	c.RecordCacheHit("workflow")
	c.RecordCacheMiss("workflow")
	c.RecordCacheMiss("workflow")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheHits.WithLabelValues("workflow")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheMisses.WithLabelValues("workflow")))
}

func TestRecordRepairAndIndexing(t *testing.T) {
	c := NewCollector(nextTestNamespace(), zap.NewNop())

	c.RecordRepair("stale_running")
	c.RecordRepair("stale_running")
	c.RecordDocumentIndexed("partitioned")
	c.RecordLLMRequest("entity_extraction", "success", 100*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.workflowsRepaired.WithLabelValues("stale_running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.documentsIndexed.WithLabelValues("partitioned")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.llmRequestsTotal.WithLabelValues("entity_extraction", "success")))
}
