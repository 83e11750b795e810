// Package metrics exposes tracker counters and histograms via
// prometheus. A single Collector implements the stats interfaces the
// frame processor, packet listener and archive writer accept, so one
// registry covers the whole pipeline.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/braid-data/braid/internal/braid"
)

// Collector holds the pipeline's prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	packetsTotal    prometheus.Counter
	badPacketsTotal prometheus.Counter
	pointsTotal     prometheus.Counter
	packetBytes     prometheus.Counter

	framesTotal  prometheus.Counter
	liveObjects  prometheus.Gauge
	frameSeconds prometheus.Histogram

	saveLatency prometheus.Histogram
	reprojDist  prometheus.Histogram

	mu        sync.Mutex
	lastFrame braid.FrameNumber
	lastLive  int
}

// NewCollector builds and registers all instruments on a fresh
// registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		packetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Name:      "camera_packets_total",
			Help:      "Camera datagrams received.",
		}),
		badPacketsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Name:      "camera_packets_bad_total",
			Help:      "Camera datagrams that failed to decode.",
		}),
		pointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Name:      "camera_points_total",
			Help:      "Feature points received across all cameras.",
		}),
		packetBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Name:      "camera_packet_bytes_total",
			Help:      "Camera datagram payload bytes received.",
		}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braid",
			Name:      "frames_processed_total",
			Help:      "Synchronized frames run through the tracker.",
		}),
		liveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "braid",
			Name:      "live_objects",
			Help:      "Tracked objects currently alive across all arenas.",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "braid",
			Name:      "frame_processing_seconds",
			Help:      "Wall time spent tracking one synchronized frame.",
			Buckets:   prometheus.ExponentialBuckets(100e-6, 2, 12),
		}),
		saveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "braid",
			Name:      "save_latency_seconds",
			Help:      "Trigger-to-disk latency of saved estimates.",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 2, 14),
		}),
		reprojDist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "braid",
			Name:      "reprojection_distance_pixels",
			Help:      "Mean reprojection distance of saved estimates.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	c.registry.MustRegister(
		c.packetsTotal, c.badPacketsTotal, c.pointsTotal, c.packetBytes,
		c.framesTotal, c.liveObjects, c.frameSeconds,
		c.saveLatency, c.reprojDist,
	)
	return c
}

// AddPacket counts one received camera datagram.
func (c *Collector) AddPacket(bytes int) {
	c.packetsTotal.Inc()
	c.packetBytes.Add(float64(bytes))
}

// AddBadPacket counts one undecodable datagram.
func (c *Collector) AddBadPacket() { c.badPacketsTotal.Inc() }

// AddPoints counts feature points delivered to the bundler.
func (c *Collector) AddPoints(count int) { c.pointsTotal.Add(float64(count)) }

// FrameDone records one completed tracking frame.
func (c *Collector) FrameDone(frame braid.FrameNumber, liveModels int, elapsed time.Duration) {
	c.framesTotal.Inc()
	c.liveObjects.Set(float64(liveModels))
	c.frameSeconds.Observe(elapsed.Seconds())
	c.mu.Lock()
	c.lastFrame = frame
	c.lastLive = liveModels
	c.mu.Unlock()
}

// ObserveSaveLatency records trigger-to-disk latency of one saved
// estimate.
func (c *Collector) ObserveSaveLatency(seconds float64) {
	c.saveLatency.Observe(seconds)
}

// ObserveReprojDist records one saved mean reprojection distance.
func (c *Collector) ObserveReprojDist(pixels float64) {
	c.reprojDist.Observe(pixels)
}

// status is the JSON body of the status endpoint.
type status struct {
	LastFrame   braid.FrameNumber `json:"last_frame"`
	LiveObjects int               `json:"live_objects"`
}

// Mux serves /metrics in prometheus exposition format and /status as a
// small JSON summary.
func (c *Collector) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.mu.Lock()
		s := status{LastFrame: c.lastFrame, LiveObjects: c.lastLive}
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s); err != nil {
			http.Error(w, "Failed to write status", http.StatusInternalServerError)
		}
	})
	return mux
}
