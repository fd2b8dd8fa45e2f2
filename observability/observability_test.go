package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("1.2.3")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "recordnote", status.Service)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestReadinessHandler(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	broken := func(ctx context.Context) (bool, error) { return false, errors.New("model missing") }

	rec := httptest.NewRecorder()
	ReadinessHandler("dev", map[string]HealthCheckFunc{"transcription": ok})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ReadinessHandler("dev", map[string]HealthCheckFunc{
		"transcription": broken,
		"other":         ok,
	})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "unhealthy", status.Dependencies["transcription"].Status)
	assert.Equal(t, "model missing", status.Dependencies["transcription"].Message)
	assert.Equal(t, "healthy", status.Dependencies["other"].Status)
}

func TestSessionMetrics(t *testing.T) {
	active := testutil.ToFloat64(activeRecordings)
	interrupted := testutil.ToFloat64(captureInterruptions)
	completed := testutil.ToFloat64(pipelineRuns.WithLabelValues("completed"))

	m := NewSessionMetrics(NewCorrelationID())
	m.RecordRecordingStart()
	assert.Equal(t, active+1, testutil.ToFloat64(activeRecordings))

	m.RecordRecordingEnd(12.5, true)
	m.RecordRecordingEnd(12.5, true)
	assert.Equal(t, active, testutil.ToFloat64(activeRecordings), "second end is a no-op")
	assert.Equal(t, interrupted+1, testutil.ToFloat64(captureInterruptions))

	m.RecordPipelineStart()
	m.RecordPipelineEnd("completed")
	assert.Equal(t, completed+1, testutil.ToFloat64(pipelineRuns.WithLabelValues("completed")))
}

func TestRecordExport(t *testing.T) {
	before := testutil.ToFloat64(documentsExported)
	RecordExport()
	assert.Equal(t, before+1, testutil.ToFloat64(documentsExported))
}

func TestWithSessionID(t *testing.T) {
	assert.NotEmpty(t, NewCorrelationID())
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())

	logger := WithSessionID("")
	assert.NotEqual(t, zerolog.Disabled, logger.GetLevel())
}
