package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitbaseline.dev/gtfs"
	"transitbaseline.dev/gtfs/api"
	"transitbaseline.dev/gtfs/metrics"
	"transitbaseline.dev/gtfs/testutil"
)

func feed() map[string][]string {
	return map[string][]string{
		"routes.txt": {
			"route_id,route_short_name,route_long_name,route_type,route_color",
			"504,504,KING,900,FF0000",
			"29,29,DUFFERIN,700,",
			"63,63,OSSINGTON,700,",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"wk,1,1,1,1,1,0,0,20240101,20241231",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"29,wk,29a",
			"29,wk,29b",
			"29,wk,29c",
			"504,wk,504a",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"A,Dufferin Gate,43.6340,-79.4180",
			"B,Dufferin St at King St,43.6400,-79.4240",
			"C,Union Station,43.6453,-79.3806",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"29a,08:00:00,08:00:00,A,1",
			"29a,08:10:00,08:10:00,B,2",
			"29b,08:15:00,08:15:00,A,1",
			"29b,08:25:00,08:25:00,B,2",
			"29c,,,A,1",
			"29c,08:55:00,08:55:00,B,2",
			"504a,10:00:00,10:00:00,C,1",
			"504a,10:20:00,10:20:00,B,2",
		},
	}
}

var venue = api.Venue{Name: "BMO Field", Lat: 43.6331, Lon: -79.4184}

func newServer(t *testing.T) (*httptest.Server, *api.Server, *metrics.Collector) {
	collector := metrics.NewCollector()
	s := api.NewServer(testutil.BuildStatic(t, "memory", feed()), api.Options{
		Venue:     venue,
		Metrics:   collector,
		CacheSize: 16,
		CacheTTL:  time.Minute,
	})
	server := httptest.NewServer(s)
	t.Cleanup(server.Close)
	return server, s, collector
}

func get(t *testing.T, server *httptest.Server, path string, v any) int {
	resp, err := server.Client().Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, v), string(body))
	}
	return resp.StatusCode
}

type modeResp struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type routeResp struct {
	ID       string `json:"route_id"`
	LongName string `json:"long_name"`
	Type     int    `json:"type"`
	Color    string `json:"color"`
}

type statsResp struct {
	StopID string  `json:"stop_id"`
	Name   string  `json:"stop_name"`
	Mean   float64 `json:"mean_headway_min"`
	Median float64 `json:"median_headway_min"`
	Obs    int     `json:"observations"`
}

type headwaysResp struct {
	Route  string `json:"route"`
	Day    string `json:"day"`
	Window *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"window"`
	Trips       int         `json:"trips"`
	Events      int         `json:"events"`
	Stats       []statsResp `json:"stats"`
	Diagnostics struct {
		MalformedTimes int      `json:"malformed_times"`
		Samples        []string `json:"samples"`
	} `json:"diagnostics"`
}

type stopResp struct {
	ID       string  `json:"stop_id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance_m"`
	Walk     float64 `json:"walk_min"`
}

func TestModesAndRoutes(t *testing.T) {
	server, _, _ := newServer(t)

	modes := []modeResp{}
	assert.Equal(t, 200, get(t, server, "/api/modes", &modes))
	assert.Equal(t, []modeResp{{700, "Bus"}, {900, "Streetcar"}}, modes)

	routes := []routeResp{}
	assert.Equal(t, 200, get(t, server, "/api/routes?mode=Bus", &routes))
	assert.Equal(t, []routeResp{
		{ID: "29", LongName: "DUFFERIN", Type: 700, Color: "FFFFFF"},
		{ID: "63", LongName: "OSSINGTON", Type: 700, Color: "FFFFFF"},
	}, routes)

	routes = []routeResp{}
	assert.Equal(t, 200, get(t, server, "/api/routes?mode=streetcar", &routes))
	assert.Equal(t, []routeResp{{ID: "504", LongName: "KING", Type: 900, Color: "FF0000"}}, routes)

	// Subway is configured, but the feed has none
	routes = nil
	assert.Equal(t, 200, get(t, server, "/api/routes?mode=Subway", &routes))
	assert.Equal(t, []routeResp{}, routes)

	assert.Equal(t, 400, get(t, server, "/api/routes", nil))
	assert.Equal(t, 400, get(t, server, "/api/routes?mode=Gondola", nil))
}

func TestHeadways(t *testing.T) {
	server, _, collector := newServer(t)

	resp := headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29&day=MONDAY", &resp))
	assert.Equal(t, "29", resp.Route)
	assert.Equal(t, "Monday", resp.Day)
	assert.Equal(t, 3, resp.Trips)
	assert.Nil(t, resp.Window)

	// 29c's blank arrival at A counts as midnight: A gets
	// 00:00, 08:00, 08:15.
	assert.Equal(t, []statsResp{
		{StopID: "A", Name: "Dufferin Gate", Mean: (480 + 15) / 2.0, Median: (480 + 15) / 2.0, Obs: 2},
		{StopID: "B", Name: "Dufferin St at King St", Mean: 22.5, Median: 22.5, Obs: 2},
	}, resp.Stats)
	assert.Equal(t, 1, resp.Diagnostics.MalformedTimes)
	require.Equal(t, 1, len(resp.Diagnostics.Samples))
	assert.Contains(t, resp.Diagnostics.Samples[0], "29c")

	// Same query again, from cache
	resp = headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29&day=monday", &resp))
	assert.Equal(t, 2, len(resp.Stats))
	assert.Equal(t, "Monday", resp.Day)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(collector.CacheMisses))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(collector.CacheHits))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(collector.MalformedTimes))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(collector.Queries.WithLabelValues("headways", "ok")))
}

func TestHeadwaysWindow(t *testing.T) {
	server, _, _ := newServer(t)

	// HH:MM accepted
	resp := headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29&day=Tuesday&start=08:00&end=08:30", &resp))
	require.NotNil(t, resp.Window)
	assert.Equal(t, "08:00:00", resp.Window.Start)
	assert.Equal(t, "08:30:00", resp.Window.End)
	assert.Equal(t, 4, resp.Events)
	require.Equal(t, 2, len(resp.Stats))
	assert.Equal(t, 15.0, resp.Stats[0].Mean)
	assert.Equal(t, 15.0, resp.Stats[1].Mean)

	// A single bound is ignored
	resp = headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29&day=Tuesday&start=08:00:00", &resp))
	assert.Nil(t, resp.Window)
	assert.Equal(t, 2, len(resp.Stats))
}

func TestHeadwaysEmptyAndErrors(t *testing.T) {
	server, _, collector := newServer(t)

	for _, path := range []string{
		"/api/headways?route=29&day=Sunday",
		"/api/headways?route=nope&day=Monday",
		"/api/headways?route=504",
		"/api/headways?route=29&start=23:00&end=23:59",
	} {
		resp := headwaysResp{}
		assert.Equal(t, 200, get(t, server, path, &resp), path)
		assert.NotNil(t, resp.Stats, path)
		assert.Equal(t, 0, len(resp.Stats), path)
	}
	assert.Equal(t, 4.0, promtestutil.ToFloat64(collector.Queries.WithLabelValues("headways", "empty")))

	assert.Equal(t, 400, get(t, server, "/api/headways", nil))
	assert.Equal(t, 400, get(t, server, "/api/headways?route=29&day=Caturday", nil))
	assert.Equal(t, 400, get(t, server, "/api/headways?route=29&start=8am&end=9am", nil))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(collector.Queries.WithLabelValues("headways", "error")))
}

func TestRouteStops(t *testing.T) {
	server, _, _ := newServer(t)

	resp := struct {
		Route  string     `json:"route"`
		Center [2]float64 `json:"center"`
		Stops  []stopResp `json:"stops"`
	}{}
	assert.Equal(t, 200, get(t, server, "/api/routes/504/stops?day=Friday", &resp))
	assert.Equal(t, "504", resp.Route)
	require.Equal(t, 2, len(resp.Stops))
	assert.Equal(t, "B", resp.Stops[0].ID)
	assert.Equal(t, "C", resp.Stops[1].ID)
	assert.InDelta(t, (43.6400+43.6453)/2, resp.Center[0], 1e-9)

	// No service on Sundays
	assert.Equal(t, 200, get(t, server, "/api/routes/504/stops?day=Sunday", &resp))
	assert.Equal(t, 0, len(resp.Stops))
	assert.Equal(t, gtfs.DefaultCenterLat, resp.Center[0])
	assert.Equal(t, gtfs.DefaultCenterLon, resp.Center[1])

	assert.Equal(t, 404, get(t, server, "/api/routes/nope/stops", nil))
	assert.Equal(t, 400, get(t, server, "/api/routes/504/stops?day=Someday", nil))
}

func TestNearby(t *testing.T) {
	server, _, _ := newServer(t)

	resp := struct {
		Venue string     `json:"venue"`
		Lat   float64    `json:"lat"`
		Stops []stopResp `json:"stops"`
	}{}
	assert.Equal(t, 200, get(t, server, "/api/stops/nearby", &resp))
	assert.Equal(t, "BMO Field", resp.Venue)
	assert.Equal(t, 43.6331, resp.Lat)
	require.Equal(t, 2, len(resp.Stops))
	assert.Equal(t, "A", resp.Stops[0].ID)
	assert.Equal(t, "B", resp.Stops[1].ID)
	assert.True(t, resp.Stops[0].Distance < 200)
	assert.True(t, resp.Stops[0].Walk > 0)

	resp.Venue = ""
	assert.Equal(t, 200, get(t, server, "/api/stops/nearby?lat=43.6453&lon=-79.3806&max=100", &resp))
	assert.Equal(t, "", resp.Venue)
	require.Equal(t, 1, len(resp.Stops))
	assert.Equal(t, "Union Station", resp.Stops[0].Name)
	assert.Equal(t, 0.0, resp.Stops[0].Distance)

	assert.Equal(t, 200, get(t, server, "/api/stops/nearby?lat=0&lon=0", &resp))
	assert.Equal(t, 0, len(resp.Stops))

	for _, path := range []string{
		"/api/stops/nearby?lat=43.6",
		"/api/stops/nearby?lat=north&lon=west",
		"/api/stops/nearby?lat=91&lon=0",
		"/api/stops/nearby?lat=43.6&lon=-181",
		"/api/stops/nearby?max=far",
		"/api/stops/nearby?max=-5",
		"/api/stops/nearby?max=0",
		"/api/stops/nearby?lat=43.6331&lon=-79.4184&max=NaN",
		"/api/stops/nearby?max=Inf",
		"/api/stops/nearby?max=-Inf",
		"/api/stops/nearby?lat=NaN&lon=0",
	} {
		assert.Equal(t, 400, get(t, server, path, nil), path)
	}
}

func TestSetStaticPurgesCache(t *testing.T) {
	server, s, collector := newServer(t)

	resp := headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29", &resp))
	assert.Equal(t, 3, resp.Trips)

	files := feed()
	files["trips.txt"] = []string{
		"route_id,service_id,trip_id",
		"29,wk,29a",
		"29,wk,29b",
	}
	s.SetStatic(testutil.BuildStatic(t, "memory", files))

	resp = headwaysResp{}
	assert.Equal(t, 200, get(t, server, "/api/headways?route=29", &resp))
	assert.Equal(t, 2, resp.Trips)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(collector.CacheHits))
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newServer(t)

	assert.Equal(t, 200, get(t, server, "/api/modes", nil))
	assert.Equal(t, 200, get(t, server, "/api/stops/nearby", nil))

	resp, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `headway_queries_total{kind="nearby",outcome="ok"} 1`)
}

func TestNoCacheNoMetrics(t *testing.T) {
	s := api.NewServer(testutil.BuildStatic(t, "sqlite", feed()), api.Options{Venue: venue})
	server := httptest.NewServer(s)
	defer server.Close()

	for i := 0; i < 2; i++ {
		resp := headwaysResp{}
		assert.Equal(t, 200, get(t, server, "/api/headways?route=29", &resp))
		assert.Equal(t, 2, len(resp.Stats))
	}

	assert.Equal(t, 404, get(t, server, "/metrics", nil))
}
