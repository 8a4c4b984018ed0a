package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopsCmd = &cobra.Command{
	Use:   "stops <route_id>",
	Short: "Lists stops served by a route on a day",
	Args:  cobra.ExactArgs(1),
	RunE:  stops,
}

var stopsDay string

func init() {
	stopsCmd.Flags().StringVarP(&stopsDay, "day", "d", "Monday", "Day of week")
	rootCmd.AddCommand(stopsCmd)
}

func stops(cmd *cobra.Command, args []string) error {
	routeID := args[0]

	_, static, err := LoadStaticFeed(cmd.Context(), nil)
	if err != nil {
		return err
	}

	if _, found := static.Route(routeID); !found {
		return fmt.Errorf("unknown route '%s'", routeID)
	}

	rs, err := static.RouteStops(routeID, stopsDay)
	if err != nil {
		return err
	}

	fmt.Printf("route %s on %s: %d stops, centered on %.5f,%.5f\n", routeID, stopsDay, len(rs.Stops), rs.CenterLat, rs.CenterLon)
	for _, stop := range rs.Stops {
		fmt.Printf("%s: %s (%.5f,%.5f)\n", stop.ID, stop.Name, stop.Lat, stop.Lon)
	}

	return nil
}
