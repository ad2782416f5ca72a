// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/internal/api/handlers"
	"github.com/stevedore-io/stevedore/internal/services/prune"
)

var (
	runName     string
	runEnv      []string
	runLabels   []string
	runNetworks []string

	psAll     bool
	psFilters []string

	stopTimeout int
	killSignal  string

	rmForce   bool
	rmVolumes bool
)

var containerCmd = &cobra.Command{
	Use:     "container",
	Aliases: []string{"c"},
	Short:   "Manage containers",
}

var containerCreateCmd = &cobra.Command{
	Use:   "create IMAGE [COMMAND...]",
	Short: "Create a container",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := parseKeyValues(runLabels)
		if err != nil {
			return err
		}
		c, err := api.ContainerCreate(cmd.Context(), handlers.CreateContainerRequest{
			Name:     runName,
			Image:    args[0],
			Command:  args[1:],
			Env:      runEnv,
			Labels:   labels,
			Networks: runNetworks,
		})
		if err != nil {
			return err
		}
		fmt.Println(c.ID)
		return nil
	},
}

var containerPsCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"ls", "list"},
	Short:   "List containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(psFilters)
		if err != nil {
			return err
		}
		containers, err := api.ContainerList(cmd.Context(), f, psAll)
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(containers)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONTAINER ID\tIMAGE\tSTATE\tCREATED\tNAMES")
		for _, c := range containers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%s\n",
				c.ShortID(), c.Image, c.State,
				units.HumanDuration(time.Since(c.CreatedAt)), c.Name)
		}
		return w.Flush()
	},
}

var containerInspectCmd = &cobra.Command{
	Use:   "inspect CONTAINER",
	Short: "Show detailed container state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := api.ContainerInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(c)
	},
}

var containerStartCmd = &cobra.Command{
	Use:   "start CONTAINER...",
	Short: "Start one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ContainerStart(cmd.Context(), ref)
		})
	},
}

var containerStopCmd = &cobra.Command{
	Use:   "stop CONTAINER...",
	Short: "Stop one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var timeout *time.Duration
		if cmd.Flags().Changed("time") {
			t := time.Duration(stopTimeout) * time.Second
			timeout = &t
		}
		return forEachRef(args, func(ref string) error {
			return api.ContainerStop(cmd.Context(), ref, timeout)
		})
	},
}

var containerRestartCmd = &cobra.Command{
	Use:   "restart CONTAINER...",
	Short: "Restart one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var timeout *time.Duration
		if cmd.Flags().Changed("time") {
			t := time.Duration(stopTimeout) * time.Second
			timeout = &t
		}
		return forEachRef(args, func(ref string) error {
			return api.ContainerRestart(cmd.Context(), ref, timeout)
		})
	},
}

var containerKillCmd = &cobra.Command{
	Use:   "kill CONTAINER...",
	Short: "Send a signal to one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ContainerKill(cmd.Context(), ref, killSignal)
		})
	},
}

var containerPauseCmd = &cobra.Command{
	Use:   "pause CONTAINER...",
	Short: "Suspend all processes in one or more containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ContainerPause(cmd.Context(), ref)
		})
	},
}

var containerUnpauseCmd = &cobra.Command{
	Use:   "unpause CONTAINER...",
	Short: "Resume one or more paused containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ContainerUnpause(cmd.Context(), ref)
		})
	},
}

var containerRenameCmd = &cobra.Command{
	Use:   "rename CONTAINER NEW_NAME",
	Short: "Rename a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.ContainerRename(cmd.Context(), args[0], args[1])
	},
}

var containerWaitCmd = &cobra.Command{
	Use:   "wait CONTAINER",
	Short: "Block until a container exits, then print its exit code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := api.ContainerWait(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	},
}

var containerExecCmd = &cobra.Command{
	Use:   "exec CONTAINER COMMAND [ARG...]",
	Short: "Run a command in a running container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := api.ContainerExec(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

var containerRmCmd = &cobra.Command{
	Use:     "rm CONTAINER...",
	Aliases: []string{"remove"},
	Short:   "Remove one or more containers",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ContainerRemove(cmd.Context(), ref, rmForce, rmVolumes)
		})
	},
}

var containerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all stopped containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(psFilters)
		if err != nil {
			return err
		}
		report, err := api.ContainersPrune(cmd.Context(), f)
		if err != nil {
			return err
		}
		printPruneReport(report)
		return nil
	},
}

// forEachRef applies fn to each ref, printing successes and collecting
// the first failure.
func forEachRef(refs []string, fn func(ref string) error) error {
	var firstErr error
	for _, ref := range refs {
		if err := fn(ref); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Println(ref)
	}
	return firstErr
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := cutKeyValue(pair)
		if !ok {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

func cutKeyValue(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], true
		}
	}
	return pair, "", false
}

func printPruneReport(report *prune.Report) {
	for _, id := range report.Deleted {
		fmt.Println("Deleted:", id)
	}
	for _, ref := range report.Untagged {
		fmt.Println("Untagged:", ref)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "Failed: %s: %s\n", f.Ref, f.Err)
	}
	fmt.Println("Total reclaimed space:", units.HumanSize(float64(report.SpaceReclaimed)))
}

func init() {
	containerCreateCmd.Flags().StringVar(&runName, "name", "", "container name")
	containerCreateCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "environment variables (KEY=VALUE)")
	containerCreateCmd.Flags().StringArrayVarP(&runLabels, "label", "l", nil, "labels (key=value)")
	containerCreateCmd.Flags().StringArrayVar(&runNetworks, "network", nil, "networks to attach")

	containerPsCmd.Flags().BoolVarP(&psAll, "all", "a", false, "show stopped containers too")
	containerPsCmd.Flags().StringArrayVarP(&psFilters, "filter", "f", nil, "filter output (key=value)")
	containerPruneCmd.Flags().StringArrayVarP(&psFilters, "filter", "f", nil, "filter (e.g. until=24h, label=k=v)")

	containerStopCmd.Flags().IntVarP(&stopTimeout, "time", "t", 10, "seconds to wait before killing")
	containerRestartCmd.Flags().IntVarP(&stopTimeout, "time", "t", 10, "seconds to wait before killing")
	containerKillCmd.Flags().StringVarP(&killSignal, "signal", "s", "SIGKILL", "signal to send")

	containerRmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "kill a running container before removal")
	containerRmCmd.Flags().BoolVarP(&rmVolumes, "volumes", "v", false, "remove anonymous volumes too")

	containerCmd.AddCommand(containerCreateCmd, containerPsCmd, containerInspectCmd,
		containerStartCmd, containerStopCmd, containerRestartCmd, containerKillCmd,
		containerPauseCmd, containerUnpauseCmd, containerRenameCmd, containerWaitCmd,
		containerExecCmd, containerRmCmd, containerPruneCmd)
	rootCmd.AddCommand(containerCmd)
}
