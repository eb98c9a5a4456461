package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/doublescout/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus: streams
// started/finished/running, pages and records per stream, fetch latency, and
// merge totals.
type PrometheusSink struct {
	streamsStarted  *prometheus.CounterVec
	streamsFinished *prometheus.CounterVec
	streamsRunning  prometheus.Gauge
	streamRuntime   *prometheus.HistogramVec

	pagesFetched  *prometheus.CounterVec
	recordsSaved  *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	currentPage   *prometheus.GaugeVec

	mergedRecords prometheus.Gauge
	merges        prometheus.Counter

	tracker *streamTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		streamsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_streams_started_total",
			Help: "Stream drivers started, by stream.",
		}, []string{"stream"}),
		streamsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_streams_finished_total",
			Help: "Stream drivers finished, by stream and final status.",
		}, []string{"stream", "status"}),
		streamsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_streams_running",
			Help: "Stream drivers currently running.",
		}),
		streamRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_stream_runtime_seconds",
			Help:    "Wall time per finished stream.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"stream"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_pages_total",
			Help: "Listing pages committed, by stream.",
		}, []string{"stream"}),
		recordsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_records_saved_total",
			Help: "Records persisted to the tech store, by stream.",
		}, []string{"stream"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_fetch_bytes_total",
			Help: "Response bytes downloaded, by stream.",
		}, []string{"stream"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_fetch_attempts_total",
			Help: "Fetch attempts including retries, by stream.",
		}, []string{"stream"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_fetch_duration_seconds",
			Help:    "Page fetch latency including retries, by stream.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stream"}),
		currentPage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scout_stream_page_offset",
			Help: "Offset of the most recently committed page, by stream.",
		}, []string{"stream"}),
		mergedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_merged_records",
			Help: "Rows in the canonical store after the last merge.",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scout_merges_total",
			Help: "Completed merges.",
		}),
		tracker: newStreamTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.streamsStarted,
		s.streamsFinished,
		s.streamsRunning,
		s.streamRuntime,
		s.pagesFetched,
		s.recordsSaved,
		s.fetchBytes,
		s.fetchAttempts,
		s.fetchDuration,
		s.currentPage,
		s.mergedRecords,
		s.merges,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageStreamStart:
		s.streamsStarted.WithLabelValues(evt.Stream).Inc()
		if s.tracker.start(evt.RunID, evt.Stream) {
			s.streamsRunning.Inc()
		}
	case progress.StageStreamDone, progress.StageStreamError:
		s.streamsFinished.WithLabelValues(evt.Stream, evt.Status).Inc()
		if evt.Dur > 0 {
			s.streamRuntime.WithLabelValues(evt.Stream).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID, evt.Stream) {
			s.streamsRunning.Dec()
		}
	case progress.StagePageDone:
		s.handlePageEvent(evt)
	case progress.StageMergeDone:
		s.merges.Inc()
		s.mergedRecords.Set(float64(evt.Records))
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	stream := evt.Stream
	s.pagesFetched.WithLabelValues(stream).Inc()
	s.currentPage.WithLabelValues(stream).Set(float64(evt.Page))
	if evt.Records > 0 {
		s.recordsSaved.WithLabelValues(stream).Add(float64(evt.Records))
	}
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(stream).Add(float64(evt.Bytes))
	}
	if evt.Attempts > 0 {
		s.fetchAttempts.WithLabelValues(stream).Add(float64(evt.Attempts))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(stream).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type streamKey struct {
	run    [16]byte
	stream string
}

type streamTracker struct {
	mu      sync.Mutex
	running map[streamKey]struct{}
}

func newStreamTracker() *streamTracker {
	return &streamTracker{running: make(map[streamKey]struct{})}
}

func (t *streamTracker) start(run [16]byte, stream string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := streamKey{run: run, stream: stream}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *streamTracker) complete(run [16]byte, stream string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := streamKey{run: run, stream: stream}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
