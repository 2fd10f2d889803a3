package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/departureboard/ptref"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [filter]",
	Short: "Lists stop points, optionally restricted by a filter",
	Args:  cobra.RangeArgs(0, 1),
	RunE:  stops,
}

func stops(cmd *cobra.Command, args []string) error {
	filter := ""
	if len(args) == 1 {
		filter = args[0]
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}

	static, err := loadStatic(cmd.Context(), manager, cfg)
	if err != nil {
		return fmt.Errorf("loading static feed: %w", err)
	}

	index, err := ptref.NewIndex(static.Reader)
	if err != nil {
		return err
	}

	ids, err := index.Resolve(ptref.KindStopPoint, filter)
	if err != nil {
		return err
	}
	selected := map[string]bool{}
	for _, id := range ids {
		selected[id] = true
	}

	all, err := static.Reader.Stops()
	if err != nil {
		return err
	}

	for _, stop := range all {
		if !selected[stop.ID] {
			continue
		}
		fmt.Printf("%-12s %-8s %s\n", stop.ID, static.StopCode(stop.ID), stop.Name)
	}

	return nil
}
