// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var (
	eventsSince  string
	pruneAll     bool
	pruneVolumes bool
	pruneFilters []string
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show daemon-wide information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := api.Info(cmd.Context())
		if err != nil {
			return err
		}
		return output(info)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show daemon version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := api.Version(cmd.Context())
		if err != nil {
			return err
		}
		return output(v)
	},
}

var dfCmd = &cobra.Command{
	Use:   "df",
	Short: "Show daemon disk usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		du, err := api.DiskUsage(cmd.Context())
		if err != nil {
			return err
		}
		return output(du)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print stored daemon events",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if eventsSince != "" {
			var err error
			since, err = time.Parse(time.RFC3339, eventsSince)
			if err != nil {
				// Durations like 30m mean "that long ago".
				d, derr := time.ParseDuration(eventsSince)
				if derr != nil {
					return fmt.Errorf("--since must be RFC3339 or a duration: %w", err)
				}
				since = time.Now().Add(-d)
			}
		}
		events, err := api.Events(cmd.Context(), since)
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(events)
		}
		for _, ev := range events {
			fmt.Printf("%s %s %s %s\n",
				ev.Time.Format(time.RFC3339), ev.Type, ev.Action, ev.Actor)
		}
		return nil
	},
}

var systemPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stopped containers, unused networks and dangling images",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(pruneFilters)
		if err != nil {
			return err
		}
		report, err := api.SystemPrune(cmd.Context(), f, pruneAll, pruneVolumes)
		if err != nil {
			return err
		}
		if report.Containers != nil && len(report.Containers.Deleted) > 0 {
			fmt.Println("Deleted containers:")
			for _, id := range report.Containers.Deleted {
				fmt.Println(" ", id)
			}
		}
		if report.Networks != nil && len(report.Networks.Deleted) > 0 {
			fmt.Println("Deleted networks:")
			for _, id := range report.Networks.Deleted {
				fmt.Println(" ", id)
			}
		}
		if report.Images != nil && len(report.Images.Deleted) > 0 {
			fmt.Println("Deleted images:")
			for _, id := range report.Images.Deleted {
				fmt.Println(" ", id)
			}
		}
		if report.Volumes != nil && len(report.Volumes.Deleted) > 0 {
			fmt.Println("Deleted volumes:")
			for _, id := range report.Volumes.Deleted {
				fmt.Println(" ", id)
			}
		}
		fmt.Println("Total reclaimed space:", units.HumanSize(float64(report.SpaceReclaimed)))
		return nil
	},
}

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Daemon-wide commands",
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "show events after this time (RFC3339 or duration like 30m)")
	systemPruneCmd.Flags().BoolVarP(&pruneAll, "all", "a", false, "remove all unused images, not only dangling")
	systemPruneCmd.Flags().BoolVar(&pruneVolumes, "volumes", false, "also prune anonymous volumes")
	systemPruneCmd.Flags().StringArrayVarP(&pruneFilters, "filter", "f", nil, "filter (e.g. until=24h, label=k=v)")

	systemCmd.AddCommand(systemPruneCmd, dfCmd, eventsCmd)
	rootCmd.AddCommand(systemCmd, versionCmd, infoCmd)
}
