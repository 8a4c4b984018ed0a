package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitbaseline.dev/gtfs/model"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "headway.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "db"), cfg.Storage.Dir)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, DefaultCKANBaseURL, cfg.Feed.CKANBaseURL)
	assert.Equal(t, DefaultCKANPackage, cfg.Feed.CKANPackage)
	assert.Equal(t, 80.0, cfg.Analysis.WalkingSpeed)
	assert.Equal(t, 6371000.0, cfg.Analysis.EarthRadiusMeters)
	assert.Equal(t, 1000.0, cfg.Analysis.MaxDistanceMeters)
	assert.Equal(t, model.DefaultModeMapping(), cfg.Analysis.Modes)
	assert.Equal(t, VenueConfig{Name: "BMO Field", Lat: 43.6331, Lon: -79.4184}, cfg.Venue)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Server.CacheTTL)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/headway
feed:
  static_url: https://example.com/gtfs.zip
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/gtfs
analysis:
  walking_speed: 70
  drop_malformed: true
  modes:
    700: Bus
    3: Legacy Bus
venue:
  name: Exhibition Place
server:
  addr: 127.0.0.1:9000
  cache_ttl: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/headway", cfg.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/headway", "db"), cfg.Storage.Dir)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feed.StaticURL)
	assert.Equal(t, DefaultCKANBaseURL, cfg.Feed.CKANBaseURL)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 70.0, cfg.Analysis.WalkingSpeed)
	assert.Equal(t, 1000.0, cfg.Analysis.MaxDistanceMeters)
	assert.True(t, cfg.Analysis.DropMalformed)

	// Replaced, not merged
	assert.Equal(t, model.ModeMapping{700: "Bus", 3: "Legacy Bus"}, cfg.Analysis.Modes)

	assert.Equal(t, "Exhibition Place", cfg.Venue.Name)
	assert.Equal(t, DefaultVenueLat, cfg.Venue.Lat)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.CacheTTL)
	assert.Equal(t, 256, cfg.Server.CacheSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
venue:
  lat: 10
`)

	t.Setenv("HEADWAY_STORAGE", "sqlite")
	t.Setenv("HEADWAY_STORAGE_DIR", "/tmp/headway-db")
	t.Setenv("HEADWAY_FEED_DIR", "data/gtfs")
	t.Setenv("HEADWAY_VENUE_LAT", "43.64")
	t.Setenv("HEADWAY_MAX_DISTANCE_METERS", " 1500 ")
	t.Setenv("HEADWAY_METRICS", "off")
	t.Setenv("HEADWAY_DROP_MALFORMED", "yes")
	t.Setenv("HEADWAY_CACHE_SIZE", "0")
	t.Setenv("HEADWAY_CACHE_TTL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/headway-db", cfg.Storage.Dir)
	assert.Equal(t, "data/gtfs", cfg.Feed.Dir)
	assert.Equal(t, 43.64, cfg.Venue.Lat)
	assert.Equal(t, 1500.0, cfg.Analysis.MaxDistanceMeters)
	assert.False(t, cfg.Server.Metrics)
	assert.True(t, cfg.Analysis.DropMalformed)
	assert.Equal(t, 0, cfg.Server.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Server.CacheTTL)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{
			name: "unknown backend",
			yaml: "storage:\n  backend: redis\n",
		},
		{
			name: "postgres without dsn",
			yaml: "storage:\n  backend: postgres\n",
		},
		{
			name: "negative walking speed",
			yaml: "analysis:\n  walking_speed: -1\n",
		},
		{
			name: "venue off the globe",
			yaml: "venue:\n  lat: 91\n",
		},
		{
			name: "empty mode name",
			yaml: "analysis:\n  modes:\n    700: \"\"\n",
		},
		{
			name: "bad static url",
			yaml: "feed:\n  static_url: not a url\n",
		},
		{
			name: "ckan without package",
			yaml: "feed:\n  ckan_package: \"\"\n",
		},
		{
			name: "malformed yaml",
			yaml: "storage: [\n",
		},
		{
			name: "bad float env",
			env:  map[string]string{"HEADWAY_WALKING_SPEED": "fast"},
		},
		{
			name: "bad duration env",
			env:  map[string]string{"HEADWAY_CACHE_TTL": "10"},
		},
		{
			name: "bad int env",
			env:  map[string]string{"HEADWAY_CACHE_SIZE": "lots"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidateFeedSource(t *testing.T) {
	cfg := Default()
	cfg.Storage.Dir = "db"
	require.NoError(t, cfg.Validate())

	cfg.Feed = FeedConfig{}
	assert.True(t, errors.Is(cfg.Validate(), ErrNoFeedSource))

	cfg.Feed.Dir = "data/gtfs"
	assert.NoError(t, cfg.Validate())
}
