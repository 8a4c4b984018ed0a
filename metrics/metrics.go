// Package metrics exposes Prometheus metrics for feed loads and
// schedule queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Queries       *prometheus.CounterVec   // kind, outcome: ok|empty|error
	QueryDuration *prometheus.HistogramVec // kind
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter

	MalformedTimes prometheus.Counter

	FeedLoads     *prometheus.CounterVec // source: url|dir|ckan|storage, outcome: ok|error
	FeedStops     prometheus.Gauge
	FeedRoutes    prometheus.Gauge
	FeedTrips     prometheus.Gauge
	FeedOrphans   prometheus.Gauge
	FeedMalformed prometheus.Gauge
	FeedLoadedAt  prometheus.Gauge // unix seconds
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "headway_queries_total",
			Help: "Schedule queries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "headway_query_duration_seconds",
			Help:    "Duration of schedule queries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "headway_cache_hits_total",
			Help: "Headway queries answered from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "headway_cache_misses_total",
			Help: "Headway queries computed.",
		}),
		MalformedTimes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "headway_malformed_times_total",
			Help: "Arrival times coerced or dropped while computing headways.",
		}),
		FeedLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "headway_feed_loads_total",
			Help: "Feed loads by source and outcome.",
		}, []string{"source", "outcome"}),
		FeedStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_stops",
			Help: "Stops in the loaded feed.",
		}),
		FeedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_routes",
			Help: "Routes in the loaded feed.",
		}),
		FeedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_trips",
			Help: "Trips in the loaded feed.",
		}),
		FeedOrphans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_orphans",
			Help: "Rows of the loaded feed referencing unknown records.",
		}),
		FeedMalformed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_malformed_times",
			Help: "Stop times of the loaded feed with malformed arrival_time.",
		}),
		FeedLoadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "headway_feed_loaded_timestamp_seconds",
			Help: "When the current feed was loaded.",
		}),
	}

	reg.MustRegister(
		c.Queries, c.QueryDuration, c.CacheHits, c.CacheMisses,
		c.MalformedTimes,
		c.FeedLoads, c.FeedStops, c.FeedRoutes, c.FeedTrips,
		c.FeedOrphans, c.FeedMalformed, c.FeedLoadedAt,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Records a finished query. empty marks successful queries that
// produced no rows.
func (c *Collector) ObserveQuery(kind string, start time.Time, empty bool, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if empty {
		outcome = "empty"
	}
	c.Queries.WithLabelValues(kind, outcome).Inc()
	c.QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (c *Collector) ObserveFeedLoad(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.FeedLoads.WithLabelValues(source, outcome).Inc()
}

type FeedSize struct {
	Stops          int
	Routes         int
	Trips          int
	Orphans        int
	MalformedTimes int
	LoadedAt       time.Time
}

func (c *Collector) SetFeed(f FeedSize) {
	c.FeedStops.Set(float64(f.Stops))
	c.FeedRoutes.Set(float64(f.Routes))
	c.FeedTrips.Set(float64(f.Trips))
	c.FeedOrphans.Set(float64(f.Orphans))
	c.FeedMalformed.Set(float64(f.MalformedTimes))
	c.FeedLoadedAt.Set(float64(f.LoadedAt.Unix()))
}
