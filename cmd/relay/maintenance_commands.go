package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"relay/internal/ipc"
)

func newDrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Ask the coordinator to process pending uploads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Drain()
				if err != nil {
					return err
				}
				if resp.Triggered {
					fmt.Fprintln(cmd.OutOrStdout(), "Drain requested")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Coordinator did not accept the drain request")
				}
				return nil
			})
		},
	}
}

func newGCCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run a retention sweep over uploaded segment blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.GC()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Enabled {
					fmt.Fprintln(out, "Retention is disabled; set retention.max_age_hours or retention.max_mib")
					return nil
				}
				fmt.Fprintf(out, "Evicted %s of %s candidate blobs, freed %s\n",
					formatCount(int64(resp.Evicted)), formatCount(int64(resp.Candidates)), formatBytes(resp.FreedBytes))
				if resp.Failed > 0 {
					fmt.Fprintf(out, "%s evictions failed; see the daemon log\n", formatCount(int64(resp.Failed)))
				}
				if resp.Skipped > 0 {
					fmt.Fprintf(out, "%s candidates were stored again and kept\n", formatCount(int64(resp.Skipped)))
				}
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}
