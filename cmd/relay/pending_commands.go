package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"relay/internal/ipc"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect and manage queued segment uploads",
	}
	pendingCmd.AddCommand(newPendingListCommand(ctx))
	pendingCmd.AddCommand(newPendingRemoveCommand(ctx))
	return pendingCmd
}

func newPendingListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued uploads in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PendingList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Records)
				}
				out := cmd.OutOrStdout()
				if len(resp.Records) == 0 {
					fmt.Fprintln(out, "No pending uploads")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Segment", "Session", "Seq", "Window", "Logs", "Queued"},
					buildPendingRows(resp.Records),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func buildPendingRows(records []ipc.PendingRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.SegmentID,
			rec.SessionID,
			strconv.Itoa(rec.Sequence),
			formatMillis(rec.WindowStartMs) + " - " + formatMillis(rec.WindowEndMs),
			strconv.Itoa(rec.LogCount),
			formatAge(rec.CreatedAt),
		})
	}
	return rows
}

func newPendingRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <segment-id>...",
		Aliases: []string{"rm"},
		Short:   "Drop queued uploads without uploading them",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					id = strings.TrimSpace(id)
					resp, err := client.PendingRemove(id)
					if err != nil {
						return err
					}
					if resp.Removed {
						fmt.Fprintf(out, "Removed pending upload %s\n", id)
					} else {
						fmt.Fprintf(out, "No pending upload %s\n", id)
					}
				}
				return nil
			})
		},
	}
}
