// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/internal/app"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stevedored",
	Short: "Container management daemon",
	Long: `stevedored runs the container engine: layered image storage,
container lifecycle supervision, networks, volumes and the swarm
orchestrator, served over a REST API on a unix socket or TCP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cfgFile, cmd.Flags())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stevedored %s (commit %s, built %s, %s)\n",
			app.Version, app.Commit, app.BuildTime, runtime.Version())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := app.LoadConfig(cfgFile, nil); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file path (default: /etc/stevedore/daemon.yaml or ./daemon.yaml)")

	// Flag names mirror config file keys so the same name works in both
	// places; setting a key in both with different values is an error.
	f := rootCmd.Flags()
	f.String("data_root", "/var/lib/stevedore", "root directory for image layers, volumes and state")
	f.String("listen.socket", "", "unix socket path for the API")
	f.String("listen.tcp", "", "optional host:port TCP listener for the API")
	f.String("storage.driver", "", "graph driver (overlay2|zfs|btrfs|devicemapper|vfs; empty auto-selects)")
	f.StringSlice("storage.opts", nil, "graph driver options (key=value)")
	f.String("database.url", "", "PostgreSQL connection string for the object store")
	f.String("nats.url", "", "NATS URL for multi-node task dispatch (empty: in-process)")
	f.Int("engine.max_concurrent_downloads", 3, "max concurrent layer downloads per pull")
	f.Int("engine.max_concurrent_uploads", 5, "max concurrent layer uploads per push")
	f.Duration("engine.shutdown_timeout", 0, "graceful shutdown deadline")
	f.Bool("engine.live_restore", false, "keep containers running across daemon restarts")
	f.String("registry.url", "", "layer registry base URL")
	f.String("logging.level", "", "log level (debug|info|warn|error)")
	f.String("logging.format", "", "log format (json|console)")

	rootCmd.AddCommand(versionCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
