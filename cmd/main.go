package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"transitbaseline.dev/gtfs"
	"transitbaseline.dev/gtfs/config"
	"transitbaseline.dev/gtfs/downloader"
	"transitbaseline.dev/gtfs/headway"
	"transitbaseline.dev/gtfs/metrics"
	"transitbaseline.dev/gtfs/proximity"
	"transitbaseline.dev/gtfs/storage"
)

var rootCmd = &cobra.Command{
	Use:               "headway",
	Short:             "Scheduled headway baseline tool",
	Long:              "Computes scheduled headways and stop proximity from static GTFS",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath    string
	feedDir       string
	staticURL     string
	staticHeaders []string
	quiet         bool

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&feedDir, "dir", "", "", "Directory with an extracted GTFS feed")
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS Static URL")
	rootCmd.PersistentFlags().StringSliceVarP(
		&staticHeaders,
		"header",
		"",
		[]string{},
		"GTFS Static HTTP header",
	)
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Don't log to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if quiet {
		log.SetOutput(io.Discard)
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if feedDir != "" {
		cfg.Feed.Dir = feedDir
	}
	if staticURL != "" {
		cfg.Feed.StaticURL = staticURL
	}

	return nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func openStorage() (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk:    true,
			Directory: cfg.Storage.Dir,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := storage.NewPSQLStorage(cfg.Storage.PostgresDSN, false)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Storage.Backend)
}

func staticOptions() []gtfs.Option {
	return []gtfs.Option{
		gtfs.WithModes(cfg.Analysis.Modes),
		gtfs.WithProximity(proximity.Engine{
			EarthRadiusMeters: cfg.Analysis.EarthRadiusMeters,
			WalkingSpeed:      cfg.Analysis.WalkingSpeed,
			MaxDistanceMeters: cfg.Analysis.MaxDistanceMeters,
		}),
		gtfs.WithHeadway(headway.Engine{DropMalformed: cfg.Analysis.DropMalformed}),
	}
}

func newManager(collector *metrics.Collector) (*gtfs.Manager, error) {
	s, err := openStorage()
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	manager := gtfs.NewManager(s, staticOptions()...)
	manager.Metrics = collector

	manager.StaticHeaders, err = parseHeaders(staticHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	fs, err := downloader.NewFilesystem(filepath.Join(cfg.DataDir, "download-cache.json"))
	if err != nil {
		return nil, fmt.Errorf("creating download cache: %w", err)
	}
	manager.Downloader = fs
	manager.CKANCacheTTL = time.Hour

	return manager, nil
}

// Loads the configured feed into storage, even if an older one is
// already there.
func fetchFeed(ctx context.Context, manager *gtfs.Manager) (*gtfs.Static, error) {
	switch {
	case cfg.Feed.Dir != "":
		return manager.LoadStaticDir(cfg.Feed.Dir)
	case cfg.Feed.StaticURL != "":
		return manager.LoadStatic(ctx, cfg.Feed.StaticURL)
	}
	return manager.LoadCKAN(ctx, cfg.Feed.CKANBaseURL, cfg.Feed.CKANPackage)
}

// Loads the feed for querying. Explicit directories and URLs are
// always (re)loaded, otherwise whatever is in storage is used,
// falling back to fetching from CKAN.
func LoadStaticFeed(ctx context.Context, collector *metrics.Collector) (*gtfs.Manager, *gtfs.Static, error) {
	manager, err := newManager(collector)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Feed.Dir == "" && cfg.Feed.StaticURL == "" {
		static, err := manager.Latest()
		if err == nil {
			return manager, static, nil
		}
		if !errors.Is(err, gtfs.ErrNoFeed) {
			return nil, nil, err
		}
		log.Printf("no feed in storage, fetching %s", cfg.Feed.CKANPackage)
	}

	static, err := fetchFeed(ctx, manager)
	if err != nil {
		return nil, nil, err
	}
	return manager, static, nil
}
