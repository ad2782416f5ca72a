// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/internal/api/handlers"
	"github.com/stevedore-io/stevedore/internal/models"
)

var (
	initAdvertiseAddr string
	initAutolock      bool
	joinToken         string
	joinAddr          string
	leaveForce        bool

	svcImage       string
	svcReplicas    uint64
	svcMode        string
	svcEnv         []string
	svcLabels      []string
	svcConstraints []string
	svcParallelism uint64

	nodeAvailability string
	nodeLabels       []string
	nodeRmForce      bool
)

// ============================================================================
// Swarm membership
// ============================================================================

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Manage swarm membership",
}

var swarmInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a swarm with this node as manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := api.SwarmInit(cmd.Context(), handlers.InitSwarmRequest{
			AdvertiseAddr: initAdvertiseAddr,
			Autolock:      initAutolock,
		})
		if err != nil {
			return err
		}
		fmt.Println("Swarm initialized: current node is now a manager.")
		if token, err := api.SwarmJoinToken(cmd.Context(), models.RoleWorker); err == nil {
			fmt.Println()
			fmt.Println("To add a worker to this swarm, run:")
			fmt.Printf("  stevectl swarm join --token %s %s\n", token, initAdvertiseAddr)
		}
		if result.UnlockKey != "" {
			fmt.Println()
			fmt.Println("Autolock enabled. Store this key; it is required after a daemon restart:")
			fmt.Println(" ", result.UnlockKey)
		}
		return nil
	},
}

var swarmJoinCmd = &cobra.Command{
	Use:   "join ADDR",
	Short: "Join a swarm as a worker or manager",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := joinAddr
		if len(args) > 0 {
			addr = args[0]
		}
		node, err := api.SwarmJoin(cmd.Context(), handlers.JoinSwarmRequest{
			Token: joinToken,
			Addr:  addr,
		})
		if err != nil {
			return err
		}
		fmt.Printf("This node joined a swarm as a %s.\n", node.Role)
		return nil
	},
}

var swarmLeaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave the swarm",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := api.SwarmLeave(cmd.Context(), leaveForce); err != nil {
			return err
		}
		fmt.Println("Node left the swarm.")
		return nil
	},
}

var swarmUnlockCmd = &cobra.Command{
	Use:   "unlock KEY",
	Short: "Unlock swarm manager state after a restart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.SwarmUnlock(cmd.Context(), args[0])
	},
}

var swarmJoinTokenCmd = &cobra.Command{
	Use:   "join-token ROLE",
	Short: "Print the join token for manager or worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := api.SwarmJoinToken(cmd.Context(), models.NodeRole(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// ============================================================================
// Services
// ============================================================================

var serviceCmd = &cobra.Command{
	Use:     "service",
	Aliases: []string{"svc"},
	Short:   "Manage swarm services",
}

func specFromFlags(name string) (models.ServiceSpec, error) {
	labels, err := parseKeyValues(svcLabels)
	if err != nil {
		return models.ServiceSpec{}, err
	}
	spec := models.ServiceSpec{
		Name:     name,
		Image:    svcImage,
		Env:      svcEnv,
		Labels:   labels,
		Mode:     models.ServiceMode(svcMode),
		Replicas: svcReplicas,
		Placement: models.Placement{
			Constraints: svcConstraints,
		},
	}
	if svcParallelism > 0 {
		spec.Update.Parallelism = svcParallelism
	}
	return spec, nil
}

var serviceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFromFlags(args[0])
		if err != nil {
			return err
		}
		svc, err := api.ServiceCreate(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Println(svc.ID)
		return nil
	},
}

var serviceLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List services",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := api.ServiceList(cmd.Context())
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(services)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODE\tREPLICAS\tIMAGE")
		for _, s := range services {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				shortUUID(s.ID), s.Spec.Name, s.Spec.Mode, s.Spec.Replicas, s.Spec.Image)
		}
		return w.Flush()
	},
}

var serviceInspectCmd = &cobra.Command{
	Use:   "inspect SERVICE",
	Short: "Show detailed service state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := api.ServiceInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(svc)
	},
}

var servicePsCmd = &cobra.Command{
	Use:   "ps SERVICE",
	Short: "List the tasks of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := api.ServiceTasks(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(tasks)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSLOT\tNODE\tDESIRED STATE\tCURRENT STATE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				shortUUID(t.ID), t.Slot, shortUUID(t.NodeID), t.DesiredState, t.CurrentState)
		}
		return w.Flush()
	},
}

var serviceUpdateCmd = &cobra.Command{
	Use:   "update SERVICE",
	Short: "Update a service and roll out the change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := api.ServiceInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		spec := current.Spec
		if cmd.Flags().Changed("image") {
			spec.Image = svcImage
		}
		if cmd.Flags().Changed("replicas") {
			spec.Replicas = svcReplicas
		}
		if cmd.Flags().Changed("env") {
			spec.Env = svcEnv
		}
		if cmd.Flags().Changed("constraint") {
			spec.Placement.Constraints = svcConstraints
		}
		if cmd.Flags().Changed("update-parallelism") {
			spec.Update.Parallelism = svcParallelism
		}
		svc, err := api.ServiceUpdate(cmd.Context(), args[0], current.Version, spec)
		if err != nil {
			return err
		}
		fmt.Println(svc.ID)
		return nil
	},
}

var serviceScaleCmd = &cobra.Command{
	Use:   "scale SERVICE=REPLICAS",
	Short: "Scale a replicated service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, replicasStr, ok := cutKeyValue(args[0])
		if !ok {
			return fmt.Errorf("expected SERVICE=REPLICAS, got %q", args[0])
		}
		replicas, err := strconv.ParseUint(replicasStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid replica count %q", replicasStr)
		}
		svc, err := api.ServiceScale(cmd.Context(), name, replicas)
		if err != nil {
			return err
		}
		fmt.Printf("%s scaled to %d\n", svc.Spec.Name, replicas)
		return nil
	},
}

var serviceRollbackCmd = &cobra.Command{
	Use:   "rollback SERVICE",
	Short: "Revert a service to its previous spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := api.ServiceRollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(svc.ID)
		return nil
	},
}

var serviceRmCmd = &cobra.Command{
	Use:     "rm SERVICE...",
	Aliases: []string{"remove"},
	Short:   "Remove one or more services",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.ServiceRemove(cmd.Context(), ref)
		})
	},
}

// ============================================================================
// Nodes
// ============================================================================

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage swarm nodes",
}

var nodeLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List swarm nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := api.NodeList(cmd.Context())
		if err != nil {
			return err
		}
		if formatFlag != "" {
			return outputList(nodes)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOSTNAME\tROLE\tAVAILABILITY\tSTATUS")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortUUID(n.ID), n.Hostname, n.Role, n.Availability, n.Status)
		}
		return w.Flush()
	},
}

var nodeInspectCmd = &cobra.Command{
	Use:   "inspect NODE",
	Short: "Show detailed node state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := api.NodeInspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(n)
	},
}

var nodeUpdateCmd = &cobra.Command{
	Use:   "update NODE",
	Short: "Update node availability or labels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req handlers.UpdateNodeRequest
		if cmd.Flags().Changed("availability") {
			av := models.NodeAvailability(nodeAvailability)
			req.Availability = &av
		}
		if cmd.Flags().Changed("label") {
			labels, err := parseKeyValues(nodeLabels)
			if err != nil {
				return err
			}
			req.Labels = labels
		}
		n, err := api.NodeUpdate(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		return nil
	},
}

var nodePromoteCmd = &cobra.Command{
	Use:   "promote NODE...",
	Short: "Promote one or more nodes to manager",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.NodePromote(cmd.Context(), ref)
		})
	},
}

var nodeDemoteCmd = &cobra.Command{
	Use:   "demote NODE...",
	Short: "Demote one or more managers to worker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.NodeDemote(cmd.Context(), ref)
		})
	},
}

var nodeRmCmd = &cobra.Command{
	Use:     "rm NODE...",
	Aliases: []string{"remove"},
	Short:   "Remove one or more nodes from the swarm",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachRef(args, func(ref string) error {
			return api.NodeRemove(cmd.Context(), ref, nodeRmForce)
		})
	},
}

// shortUUID truncates a UUID for table display.
func shortUUID(id uuid.UUID) string {
	return id.String()[:8]
}

func init() {
	swarmInitCmd.Flags().StringVar(&initAdvertiseAddr, "advertise-addr", "", "address advertised to other nodes")
	swarmInitCmd.Flags().BoolVar(&initAutolock, "autolock", false, "require an unlock key after daemon restart")
	swarmJoinCmd.Flags().StringVar(&joinToken, "token", "", "join token from `swarm join-token`")
	swarmJoinCmd.Flags().StringVar(&joinAddr, "addr", "", "address of this node")
	swarmLeaveCmd.Flags().BoolVarP(&leaveForce, "force", "f", false, "leave even as the last manager")

	for _, cmd := range []*cobra.Command{serviceCreateCmd, serviceUpdateCmd} {
		cmd.Flags().StringVar(&svcImage, "image", "", "image reference")
		cmd.Flags().Uint64Var(&svcReplicas, "replicas", 1, "desired task count (replicated mode)")
		cmd.Flags().StringArrayVarP(&svcEnv, "env", "e", nil, "environment variables (KEY=VALUE)")
		cmd.Flags().StringArrayVar(&svcConstraints, "constraint", nil, "placement constraints (e.g. node.role==worker)")
		cmd.Flags().Uint64Var(&svcParallelism, "update-parallelism", 0, "tasks updated simultaneously during a rollout")
	}
	serviceCreateCmd.Flags().StringVar(&svcMode, "mode", "replicated", "service mode: replicated|global")
	serviceCreateCmd.Flags().StringArrayVarP(&svcLabels, "label", "l", nil, "labels (key=value)")

	nodeUpdateCmd.Flags().StringVar(&nodeAvailability, "availability", "", "active|pause|drain")
	nodeUpdateCmd.Flags().StringArrayVar(&nodeLabels, "label", nil, "labels (key=value)")
	nodeRmCmd.Flags().BoolVarP(&nodeRmForce, "force", "f", false, "remove even when not drained")

	swarmCmd.AddCommand(swarmInitCmd, swarmJoinCmd, swarmLeaveCmd, swarmUnlockCmd, swarmJoinTokenCmd)
	serviceCmd.AddCommand(serviceCreateCmd, serviceLsCmd, serviceInspectCmd, servicePsCmd,
		serviceUpdateCmd, serviceScaleCmd, serviceRollbackCmd, serviceRmCmd)
	nodeCmd.AddCommand(nodeLsCmd, nodeInspectCmd, nodeUpdateCmd, nodePromoteCmd, nodeDemoteCmd, nodeRmCmd)
	rootCmd.AddCommand(swarmCmd, serviceCmd, nodeCmd)
}
