package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Downloads the configured feed into storage",
	Args:  cobra.NoArgs,
	RunE:  fetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func fetch(cmd *cobra.Command, args []string) error {
	manager, err := newManager(nil)
	if err != nil {
		return err
	}

	static, err := fetchFeed(cmd.Context(), manager)
	if err != nil {
		return err
	}

	md := static.Metadata
	fmt.Printf("feed:      %s\n", md.URL)
	fmt.Printf("hash:      %s\n", md.Hash)
	fmt.Printf("calendar:  %s - %s\n", md.CalendarStartDate, md.CalendarEndDate)
	fmt.Printf("last stop: %s\n", md.MaxArrival)
	fmt.Printf("stops:     %d\n", len(static.Stops()))
	if md.Orphans > 0 {
		fmt.Printf("orphans:   %d\n", md.Orphans)
	}
	if md.MalformedTimes > 0 {
		fmt.Printf("malformed: %d arrival times\n", md.MalformedTimes)
	}

	return nil
}
