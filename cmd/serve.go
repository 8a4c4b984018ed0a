package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"transitbaseline.dev/gtfs"
	"transitbaseline.dev/gtfs/api"
	"transitbaseline.dev/gtfs/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the JSON API",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var refresh time.Duration

func init() {
	serveCmd.Flags().DurationVarP(&refresh, "refresh", "r", 0, "Refetch the feed this often (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Server.Metrics {
		collector = metrics.NewCollector()
	}

	manager, static, err := LoadStaticFeed(ctx, collector)
	if err != nil {
		return err
	}

	handler := api.NewServer(static, api.Options{
		Venue: api.Venue{
			Name: cfg.Venue.Name,
			Lat:  cfg.Venue.Lat,
			Lon:  cfg.Venue.Lon,
		},
		Metrics:   collector,
		CacheSize: cfg.Server.CacheSize,
		CacheTTL:  cfg.Server.CacheTTL,
	})

	if refresh > 0 {
		go refreshLoop(ctx, manager, handler, static.Metadata.Hash)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutting down: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.Server.Addr)
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func refreshLoop(ctx context.Context, manager *gtfs.Manager, handler *api.Server, hash string) {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		static, err := fetchFeed(ctx, manager)
		if err != nil {
			// Keep serving the previous feed
			continue
		}
		if static.Metadata.Hash == hash {
			continue
		}

		log.Printf("serving new feed %s", static.Metadata.Hash)
		hash = static.Metadata.Hash
		handler.SetStatic(static)
	}
}
