// Package config loads settings for the headway tools from an
// optional YAML file and HEADWAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"transitbaseline.dev/gtfs/model"
	"transitbaseline.dev/gtfs/proximity"
)

const (
	DefaultCKANBaseURL = "https://ckan0.cf.opendata.inter.prod-toronto.ca"
	DefaultCKANPackage = "merged-gtfs-ttc-routes-and-schedules"

	DefaultVenueName = "BMO Field"
	DefaultVenueLat  = 43.6331
	DefaultVenueLon  = -79.4184
)

type Config struct {
	// Root of downloaded and derived data.
	DataDir string `yaml:"data_dir" validate:"required"`

	Feed     FeedConfig     `yaml:"feed"`
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Venue    VenueConfig    `yaml:"venue"`
	Server   ServerConfig   `yaml:"server"`
}

// Where the static feed comes from. Dir takes precedence over
// StaticURL, which takes precedence over the CKAN package.
type FeedConfig struct {
	Dir         string `yaml:"dir"`
	StaticURL   string `yaml:"static_url" validate:"omitempty,url"`
	CKANBaseURL string `yaml:"ckan_base_url" validate:"omitempty,url"`
	CKANPackage string `yaml:"ckan_package" validate:"required_with=CKANBaseURL"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
}

type AnalysisConfig struct {
	WalkingSpeed      float64           `yaml:"walking_speed" validate:"gt=0"`
	EarthRadiusMeters float64           `yaml:"earth_radius_meters" validate:"gt=0"`
	MaxDistanceMeters float64           `yaml:"max_distance_meters" validate:"gt=0"`
	DropMalformed     bool              `yaml:"drop_malformed"`
	Modes             model.ModeMapping `yaml:"modes" validate:"min=1,dive,required"`
}

type VenueConfig struct {
	Name string  `yaml:"name" validate:"required"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

type ServerConfig struct {
	Addr      string        `yaml:"addr" validate:"required"`
	Metrics   bool          `yaml:"metrics"`
	CacheSize int           `yaml:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

func Default() *Config {
	return &Config{
		DataDir: "data",
		Feed: FeedConfig{
			CKANBaseURL: DefaultCKANBaseURL,
			CKANPackage: DefaultCKANPackage,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Analysis: AnalysisConfig{
			WalkingSpeed:      proximity.DefaultWalkingSpeed,
			EarthRadiusMeters: proximity.DefaultEarthRadiusMeters,
			MaxDistanceMeters: proximity.DefaultMaxDistanceMeters,
			Modes:             model.DefaultModeMapping(),
		},
		Venue: VenueConfig{
			Name: DefaultVenueName,
			Lat:  DefaultVenueLat,
			Lon:  DefaultVenueLon,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			Metrics:   true,
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
	}
}

// Loads configuration. A .env file in the working directory is
// loaded into the environment if present. If path is non-empty, the
// YAML file there is read on top of the defaults. HEADWAY_*
// environment variables override both.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(cfg.DataDir, "db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	// yaml.v3 merges into existing maps, so a configured mode table
	// must replace the default one rather than extend it.
	defaultModes := c.Analysis.Modes
	c.Analysis.Modes = nil

	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}

	if c.Analysis.Modes == nil {
		c.Analysis.Modes = defaultModes
	}
	return nil
}

var validate = validator.New()

var ErrNoFeedSource = errors.New("no feed source configured")

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.Feed.Dir == "" && c.Feed.StaticURL == "" && c.Feed.CKANBaseURL == "" {
			return ErrNoFeedSource
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	float := func(name string, dst *float64) error {
		v := getenv(name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", name, v)
		}
		*dst = f
		return nil
	}

	str("HEADWAY_DATA_DIR", &c.DataDir)
	str("HEADWAY_FEED_DIR", &c.Feed.Dir)
	str("HEADWAY_STATIC_URL", &c.Feed.StaticURL)
	str("HEADWAY_CKAN_BASE_URL", &c.Feed.CKANBaseURL)
	str("HEADWAY_CKAN_PACKAGE", &c.Feed.CKANPackage)
	str("HEADWAY_STORAGE", &c.Storage.Backend)
	str("HEADWAY_STORAGE_DIR", &c.Storage.Dir)
	str("HEADWAY_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("HEADWAY_VENUE_NAME", &c.Venue.Name)
	str("HEADWAY_ADDR", &c.Server.Addr)

	for name, dst := range map[string]*float64{
		"HEADWAY_WALKING_SPEED":       &c.Analysis.WalkingSpeed,
		"HEADWAY_MAX_DISTANCE_METERS": &c.Analysis.MaxDistanceMeters,
		"HEADWAY_VENUE_LAT":           &c.Venue.Lat,
		"HEADWAY_VENUE_LON":           &c.Venue.Lon,
	} {
		if err := float(name, dst); err != nil {
			return err
		}
	}

	if v := getenv("HEADWAY_DROP_MALFORMED"); v != "" {
		c.Analysis.DropMalformed = parseBool(v)
	}
	if v := getenv("HEADWAY_METRICS"); v != "" {
		c.Server.Metrics = parseBool(v)
	}

	if v := getenv("HEADWAY_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid HEADWAY_CACHE_SIZE: %q", v)
		}
		c.Server.CacheSize = n
	}
	if v := getenv("HEADWAY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid HEADWAY_CACHE_TTL: %q", v)
		}
		c.Server.CacheTTL = d
	}

	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
