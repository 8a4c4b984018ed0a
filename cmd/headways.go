package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var headwaysCmd = &cobra.Command{
	Use:   "headways <route_id>",
	Short: "Scheduled headway statistics per stop for a route",
	Args:  cobra.ExactArgs(1),
	RunE:  headways,
}

var (
	day         string
	windowStart string
	windowEnd   string
)

func init() {
	headwaysCmd.Flags().StringVarP(&day, "day", "d", "Monday", "Day of week")
	headwaysCmd.Flags().StringVarP(&windowStart, "start", "", "", "Start of time window (HH:MM:SS)")
	headwaysCmd.Flags().StringVarP(&windowEnd, "end", "", "", "End of time window (HH:MM:SS)")
	rootCmd.AddCommand(headwaysCmd)
}

func headways(cmd *cobra.Command, args []string) error {
	routeID := args[0]

	_, static, err := LoadStaticFeed(cmd.Context(), nil)
	if err != nil {
		return err
	}

	report, err := static.HeadwayStats(routeID, day, windowStart, windowEnd)
	if err != nil {
		return err
	}

	for _, m := range report.Malformed {
		log.Printf("warning: %v", m)
	}

	fmt.Printf("route %s, %s, %s: %d trips\n", routeID, day, report.Window, report.Trips)
	if report.Empty() {
		fmt.Println("no headways")
		return nil
	}

	fmt.Printf("%-10s %8s %8s %5s  %s\n", "stop", "mean", "median", "n", "name")
	for _, st := range report.Stats {
		fmt.Printf(
			"%-10s %8.2f %8.2f %5d  %s\n",
			st.StopID, st.MeanMinutes, st.MedianMinutes, st.Observations, st.StopName,
		)
	}

	return nil
}
