package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordInference(t *testing.T) {
	before := testutil.ToFloat64(InferenceTotal.WithLabelValues("inferred"))
	ambiguousBefore := testutil.ToFloat64(InferenceAmbiguous)

	RecordInference("inferred", false)
	RecordInference("inferred", true)

	assert.Equal(t, before+2, testutil.ToFloat64(InferenceTotal.WithLabelValues("inferred")))
	assert.Equal(t, ambiguousBefore+1, testutil.ToFloat64(InferenceAmbiguous))
}

func TestPublishAudit(t *testing.T) {
	finished := time.Unix(1_700_000_000, 0)
	PublishAudit(AuditSnapshot{Conformes: 7, NonConformes: 2, Errored: 1, Coverage: 93.5, FinishedAt: finished})

	assert.Equal(t, 7.0, testutil.ToFloat64(AuditGammes.WithLabelValues("CONFORME")))
	assert.Equal(t, 2.0, testutil.ToFloat64(AuditGammes.WithLabelValues("NON_CONFORME")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AuditGammes.WithLabelValues("ERROR")))
	assert.Equal(t, 93.5, testutil.ToFloat64(AuditCoverage))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(AuditLastSuccess))
}

func TestRecordCacheRefresh(t *testing.T) {
	RecordCacheRefresh("ok", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(DefinitionCacheSize))

	RecordCacheRefresh("error", 0)
	assert.Equal(t, 42.0, testutil.ToFloat64(DefinitionCacheSize), "failed refresh must not reset the size gauge")
}
