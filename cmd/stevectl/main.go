// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/internal/client"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
)

var (
	hostFlag   string
	formatFlag string

	api *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "stevectl",
	Short: "Control a stevedored daemon",
	Long: `stevectl manages containers, images, volumes, networks and swarm
services on a stevedored daemon, over its unix socket or TCP address.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		host := hostFlag
		if host == "" {
			host = os.Getenv(client.EnvHost)
		}
		if host == "" {
			host = client.DefaultHost
		}
		var err error
		api, err = client.New(client.Config{Host: host})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&hostFlag, "host", "H", "",
		"daemon address (default: $STEVEDORE_HOST or "+client.DefaultHost+")")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "",
		"format output with a Go template")
}

// parseFilterFlags turns repeated --filter key=value flags into Args.
func parseFilterFlags(pairs []string) (filters.Args, error) {
	args := filters.NewArgs()
	for _, pair := range pairs {
		var err error
		args, err = filters.ParseFlag(pair, args)
		if err != nil {
			return args, err
		}
	}
	return args, nil
}

// output prints v as indented JSON, or renders the --format template
// against it (per element for slices).
func output(v interface{}) error {
	if formatFlag != "" {
		tmpl, err := template.New("format").Parse(formatFlag)
		if err != nil {
			return fmt.Errorf("parse format template: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		defer w.Flush()
		switch items := v.(type) {
		case []interface{}:
			for _, item := range items {
				if err := tmpl.Execute(w, item); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			return nil
		default:
			if err := tmpl.Execute(w, v); err != nil {
				return err
			}
			fmt.Fprintln(w)
			return nil
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputList applies --format per element, falling back to JSON for the
// whole slice.
func outputList[T any](items []T) error {
	if formatFlag == "" {
		return output(items)
	}
	boxed := make([]interface{}, len(items))
	for i, item := range items {
		boxed[i] = item
	}
	return output(boxed)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
