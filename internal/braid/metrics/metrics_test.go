package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/braid/internal/braid"
)

func TestCollectorCounters(t *testing.T) {
	t.Parallel()
	c := NewCollector()

	c.AddPacket(100)
	c.AddPacket(50)
	c.AddBadPacket()
	c.AddPoints(7)
	c.FrameDone(braid.FrameNumber(42), 3, 2*time.Millisecond)
	c.ObserveSaveLatency(0.01)
	c.ObserveReprojDist(1.5)

	assert.InDelta(t, 2, testutil.ToFloat64(c.packetsTotal), 0)
	assert.InDelta(t, 150, testutil.ToFloat64(c.packetBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.badPacketsTotal), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(c.pointsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.framesTotal), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(c.liveObjects), 0)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.FrameDone(braid.FrameNumber(1), 1, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "braid_frames_processed_total 1"), "exposition contains frame counter:\n%s", body)
	assert.True(t, strings.Contains(body, "braid_live_objects 1"), "exposition contains live gauge")
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.FrameDone(braid.FrameNumber(99), 2, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Mux().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, 200, rec.Code)

	var s status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, braid.FrameNumber(99), s.LastFrame)
	assert.Equal(t, 2, s.LiveObjects)

	rec = httptest.NewRecorder()
	c.Mux().ServeHTTP(rec, httptest.NewRequest("POST", "/status", nil))
	assert.Equal(t, 405, rec.Code)
}
