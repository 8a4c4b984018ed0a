package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Lists modes, or the routes of a mode",
	Args:  cobra.NoArgs,
	RunE:  routes,
}

var mode string

func init() {
	routesCmd.Flags().StringVarP(&mode, "mode", "m", "", "Mode to list routes for (e.g. Bus)")
	rootCmd.AddCommand(routesCmd)
}

func routes(cmd *cobra.Command, args []string) error {
	_, static, err := LoadStaticFeed(cmd.Context(), nil)
	if err != nil {
		return err
	}

	if mode == "" {
		for _, m := range static.Modes() {
			fmt.Printf("%d %s\n", m.Code, m.Name)
		}
		return nil
	}

	routes, err := static.RoutesByMode(mode)
	if err != nil {
		return err
	}

	for _, route := range routes {
		fmt.Printf("%s: %s %s\n", route.ID, route.ShortName, route.LongName)
	}

	return nil
}
