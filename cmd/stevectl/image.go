// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var (
	imageFilters  []string
	imageRmForce  bool
	imagePruneAll bool
)

var imageCmd = &cobra.Command{
	Use:     "image",
	Aliases: []string{"i"},
	Short:   "Manage images",
}

var imagePullCmd = &cobra.Command{
	Use:   "pull REF",
	Short: "Pull an image from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := api.ImagePull(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(img.ID)
		return nil
	},
}

var imagePushCmd = &cobra.Command{
	Use:   "push REF",
	Short: "Push an image to the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.ImagePush(cmd.Context(), args[0])
	},
}

var imageLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List images",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(imageFilters)
		if err != nil {
			return err
		}
		images, err := api.ImageList(cmd.Context(), f)
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(images)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPOSITORY:TAG\tIMAGE ID\tCREATED\tSIZE")
		for _, img := range images {
			tags := "<none>"
			if len(img.RepoTags) > 0 {
				tags = strings.Join(img.RepoTags, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s ago\t%s\n",
				tags, img.ShortID(),
				units.HumanDuration(time.Since(img.CreatedAt)),
				units.HumanSize(float64(img.SizeBytes)))
		}
		return w.Flush()
	},
}

var imageInspectCmd = &cobra.Command{
	Use:   "inspect REF",
	Short: "Show detailed image state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := api.ImageInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(img)
	},
}

var imageTagCmd = &cobra.Command{
	Use:   "tag SOURCE TARGET",
	Short: "Add a tag to an image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.ImageTag(cmd.Context(), args[0], args[1])
	},
}

var imageRmCmd = &cobra.Command{
	Use:     "rm REF...",
	Aliases: []string{"remove", "rmi"},
	Short:   "Remove one or more images",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var firstErr error
		for _, ref := range args {
			result, err := api.ImageRemove(cmd.Context(), ref, imageRmForce)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for _, tag := range result.Untagged {
				fmt.Println("Untagged:", tag)
			}
			for _, id := range result.Deleted {
				fmt.Println("Deleted:", id)
			}
		}
		return firstErr
	},
}

var imagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove unused images",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(imageFilters)
		if err != nil {
			return err
		}
		report, err := api.ImagesPrune(cmd.Context(), f, imagePruneAll)
		if err != nil {
			return err
		}
		printPruneReport(report)
		return nil
	},
}

func init() {
	imageLsCmd.Flags().StringArrayVarP(&imageFilters, "filter", "f", nil, "filter output (key=value)")
	imagePruneCmd.Flags().StringArrayVarP(&imageFilters, "filter", "f", nil, "filter (e.g. until=24h)")
	imagePruneCmd.Flags().BoolVarP(&imagePruneAll, "all", "a", false, "remove all unused images, not only dangling")
	imageRmCmd.Flags().BoolVarP(&imageRmForce, "force", "f", false, "remove even when tagged in multiple repositories or used by stopped containers")

	imageCmd.AddCommand(imagePullCmd, imagePushCmd, imageLsCmd, imageInspectCmd,
		imageTagCmd, imageRmCmd, imagePruneCmd)
	rootCmd.AddCommand(imageCmd)
}
