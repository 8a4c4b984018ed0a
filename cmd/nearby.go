package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby [lat lng]",
	Short: "Lists stops within walking distance of a location, or of the venue",
	Args:  cobra.RangeArgs(0, 2),
	RunE:  nearby,
}

var maxDistance float64

func init() {
	nearbyCmd.Flags().Float64VarP(&maxDistance, "max", "m", 0, "Max distance in meters (default from config)")
	rootCmd.AddCommand(nearbyCmd)
}

func nearby(cmd *cobra.Command, args []string) error {
	lat, lng := cfg.Venue.Lat, cfg.Venue.Lon
	var err error

	if len(args) == 1 {
		return fmt.Errorf("missing lng")
	}
	if len(args) == 2 {
		lat, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid lat: %w", err)
		}
		lng, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid lng: %w", err)
		}
	} else {
		fmt.Printf("near %s\n", cfg.Venue.Name)
	}
	if maxDistance < 0 {
		return fmt.Errorf("max must be >= 0")
	}

	_, static, err := LoadStaticFeed(cmd.Context(), nil)
	if err != nil {
		return err
	}

	stops, err := static.NearbyStops(lat, lng, maxDistance)
	if err != nil {
		return err
	}

	for _, stop := range stops {
		fmt.Printf("%s: %s (%.0f m, %.1f min walk)\n", stop.ID, stop.Name, stop.DistanceMeters, stop.WalkTimeMinutes)
	}

	return nil
}
