package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitbaseline.dev/gtfs/metrics"
)

func TestObserveQuery(t *testing.T) {
	c := metrics.NewCollector()

	start := time.Now()
	c.ObserveQuery("headways", start, false, nil)
	c.ObserveQuery("headways", start, true, nil)
	c.ObserveQuery("headways", start, true, nil)
	c.ObserveQuery("nearby", start, false, errors.New("bad coordinates"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Queries.WithLabelValues("headways", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Queries.WithLabelValues("headways", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Queries.WithLabelValues("nearby", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Queries.WithLabelValues("nearby", "ok")))
}

func TestFeedMetrics(t *testing.T) {
	c := metrics.NewCollector()

	c.ObserveFeedLoad("ckan", nil)
	c.ObserveFeedLoad("ckan", errors.New("no zip"))
	c.ObserveFeedLoad("dir", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FeedLoads.WithLabelValues("ckan", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FeedLoads.WithLabelValues("ckan", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FeedLoads.WithLabelValues("dir", "ok")))

	c.SetFeed(metrics.FeedSize{
		Stops:          9000,
		Routes:         210,
		Trips:          130000,
		Orphans:        2,
		MalformedTimes: 5,
		LoadedAt:       time.Unix(1700000000, 0),
	})
	assert.Equal(t, 9000.0, testutil.ToFloat64(c.FeedStops))
	assert.Equal(t, 210.0, testutil.ToFloat64(c.FeedRoutes))
	assert.Equal(t, 130000.0, testutil.ToFloat64(c.FeedTrips))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.FeedOrphans))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.FeedMalformed))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.FeedLoadedAt))
}

func TestHandler(t *testing.T) {
	c := metrics.NewCollector()
	c.MalformedTimes.Add(3)
	c.CacheHits.Inc()

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "headway_malformed_times_total 3")
	assert.Contains(t, string(body), "headway_cache_hits_total 1")
}
