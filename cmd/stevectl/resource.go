// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/internal/api/handlers"
)

var (
	volumeDriver   string
	volumeLabels   []string
	volumeFilters  []string
	volumeRmForce  bool

	networkDriver   string
	networkSubnet   string
	networkGateway  string
	networkInternal bool
	networkLabels   []string
	networkFilters  []string
	disconnectForce bool
)

// ============================================================================
// Volumes
// ============================================================================

var volumeCmd = &cobra.Command{
	Use:     "volume",
	Aliases: []string{"v"},
	Short:   "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create a volume",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		labels, err := parseKeyValues(volumeLabels)
		if err != nil {
			return err
		}
		v, err := api.VolumeCreate(cmd.Context(), handlers.CreateVolumeRequest{
			Name:   name,
			Driver: volumeDriver,
			Labels: labels,
		})
		if err != nil {
			return err
		}
		fmt.Println(v.Name)
		return nil
	},
}

var volumeLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(volumeFilters)
		if err != nil {
			return err
		}
		volumes, err := api.VolumeList(cmd.Context(), f)
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(volumes)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DRIVER\tVOLUME NAME")
		for _, v := range volumes {
			fmt.Fprintf(w, "%s\t%s\n", v.Driver, v.Name)
		}
		return w.Flush()
	},
}

var volumeInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show detailed volume state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := api.VolumeInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(v)
	},
}

var volumeRmCmd = &cobra.Command{
	Use:     "rm NAME...",
	Aliases: []string{"remove"},
	Short:   "Remove one or more volumes",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(name string) error {
			return api.VolumeRemove(cmd.Context(), name, volumeRmForce)
		})
	},
}

var volumePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove unused anonymous volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(volumeFilters)
		if err != nil {
			return err
		}
		report, err := api.VolumesPrune(cmd.Context(), f)
		if err != nil {
			return err
		}
		printPruneReport(report)
		return nil
	},
}

// ============================================================================
// Networks
// ============================================================================

var networkCmd = &cobra.Command{
	Use:     "network",
	Aliases: []string{"net"},
	Short:   "Manage networks",
}

var networkCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := parseKeyValues(networkLabels)
		if err != nil {
			return err
		}
		n, err := api.NetworkCreate(cmd.Context(), handlers.CreateNetworkRequest{
			Name:     args[0],
			Driver:   networkDriver,
			Subnet:   networkSubnet,
			Gateway:  networkGateway,
			Internal: networkInternal,
			Labels:   labels,
		})
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	},
}

var networkLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(networkFilters)
		if err != nil {
			return err
		}
		networks, err := api.NetworkList(cmd.Context(), f)
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(networks)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NETWORK ID\tNAME\tDRIVER\tSCOPE")
		for _, n := range networks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ShortID(), n.Name, n.Driver, n.Scope)
		}
		return w.Flush()
	},
}

var networkInspectCmd = &cobra.Command{
	Use:   "inspect NETWORK",
	Short: "Show detailed network state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := api.NetworkInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(n)
	},
}

var networkConnectCmd = &cobra.Command{
	Use:   "connect NETWORK CONTAINER",
	Short: "Connect a container to a network",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := api.NetworkConnect(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(ep.IPv4Address)
		return nil
	},
}

var networkDisconnectCmd = &cobra.Command{
	Use:   "disconnect NETWORK CONTAINER",
	Short: "Disconnect a container from a network",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.NetworkDisconnect(cmd.Context(), args[0], args[1], disconnectForce)
	},
}

var networkRmCmd = &cobra.Command{
	Use:     "rm NETWORK...",
	Aliases: []string{"remove"},
	Short:   "Remove one or more networks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.NetworkRemove(cmd.Context(), ref)
		})
	},
}

var networkPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove unused custom networks",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFilterFlags(networkFilters)
		if err != nil {
			return err
		}
		report, err := api.NetworksPrune(cmd.Context(), f)
		if err != nil {
			return err
		}
		printPruneReport(report)
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().StringVarP(&volumeDriver, "driver", "d", "", "volume driver")
	volumeCreateCmd.Flags().StringArrayVarP(&volumeLabels, "label", "l", nil, "labels (key=value)")
	volumeLsCmd.Flags().StringArrayVarP(&volumeFilters, "filter", "f", nil, "filter output (key=value)")
	volumePruneCmd.Flags().StringArrayVarP(&volumeFilters, "filter", "f", nil, "filter (e.g. label=k=v)")
	volumeRmCmd.Flags().BoolVarP(&volumeRmForce, "force", "f", false, "remove even when referenced")

	networkCreateCmd.Flags().StringVarP(&networkDriver, "driver", "d", "", "network driver")
	networkCreateCmd.Flags().StringVar(&networkSubnet, "subnet", "", "subnet in CIDR notation")
	networkCreateCmd.Flags().StringVar(&networkGateway, "gateway", "", "gateway address")
	networkCreateCmd.Flags().BoolVar(&networkInternal, "internal", false, "restrict external access")
	networkCreateCmd.Flags().StringArrayVarP(&networkLabels, "label", "l", nil, "labels (key=value)")
	networkLsCmd.Flags().StringArrayVarP(&networkFilters, "filter", "f", nil, "filter output (key=value)")
	networkPruneCmd.Flags().StringArrayVarP(&networkFilters, "filter", "f", nil, "filter (e.g. until=24h)")
	networkDisconnectCmd.Flags().BoolVarP(&disconnectForce, "force", "f", false, "disconnect even when the container is running")

	volumeCmd.AddCommand(volumeCreateCmd, volumeLsCmd, volumeInspectCmd, volumeRmCmd, volumePruneCmd)
	networkCmd.AddCommand(networkCreateCmd, networkLsCmd, networkInspectCmd,
		networkConnectCmd, networkDisconnectCmd, networkRmCmd, networkPruneCmd)
	rootCmd.AddCommand(volumeCmd, networkCmd)
}
