package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"relay/internal/coordinator"
	"relay/internal/ipc"
	"relay/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checks bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, coordinator and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialClient()
			if err != nil {
				if asJSON {
					return writeJSON(cmd, ipc.StatusResponse{Running: false})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printSection(out, "Relay", colorize, []string{
					renderStatusLine("relayd", statusError, "Not running", colorize),
					renderValueLine("Hint", err.Error()),
				})
				return nil
			}
			defer client.Close()

			status, err := client.Status(checks)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&checks, "checks", false, "Run preflight checks as part of the report")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderStatus(out io.Writer, status *ipc.StatusResponse, colorize bool) {
	daemonKind, daemonDetail := statusError, "Not running"
	if status.Running {
		daemonKind = statusOK
		daemonDetail = fmt.Sprintf("Running (pid %d)", status.PID)
	}
	system := []string{
		renderStatusLine("relayd", daemonKind, daemonDetail, colorize),
		renderValueLine("Started", formatAge(status.StartedAt)),
		renderValueLine("Queue DB", status.QueueDBPath),
		renderValueLine("Port socket", status.PortSocket),
		renderValueLine("Blob backend", dashIfEmpty(status.Backend)),
	}
	printSection(out, "System Status", colorize, system)

	printSection(out, "Coordinator", colorize, coordinatorLines(status.Coordinator, colorize))

	store := []string{
		renderValueLine("Pending uploads", formatCount(int64(status.Pending))),
		renderValueLine("Blob bytes", formatBytes(status.BlobBytes)),
		renderValueLine("Evicted blobs", formatCount(int64(status.Evicted))),
	}
	if status.RetentionMaxAge != "" || status.RetentionBytes > 0 {
		store = append(store, renderValueLine("Retention", retentionSummary(status)))
	} else {
		store = append(store, renderStatusLine("Retention", statusInfo, "disabled", colorize))
	}
	printSection(out, "Segment Store", colorize, store)

	if len(status.Checks) > 0 {
		lines := make([]string, 0, len(status.Checks))
		for _, check := range status.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusWarn
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
		printSection(out, "Preflight", colorize, lines)
	}

	rows := buildSegmentStatusRows(status.SegmentStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No segments stored")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Upload Status", "Segments"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func coordinatorLines(status coordinator.Status, colorize bool) []string {
	kind := statusOK
	phase := string(status.Phase)
	if status.Phase == coordinator.PhaseDraining {
		kind = statusInfo
		if status.Rerun {
			phase += " (re-run queued)"
		}
	}
	lines := []string{
		renderStatusLine("Phase", kind, phase, colorize),
		renderValueLine("Connected ports", strconv.Itoa(status.Ports)),
		renderValueLine("Passes", formatCount(int64(status.Passes))),
	}
	if last := status.Last; last != nil {
		summary := fmt.Sprintf("pass %d: %d listed, %d uploaded, %d failed, %d dropped in %dms",
			last.Pass, last.Listed, last.Uploaded, last.Failed, last.Dropped, last.DurationMs)
		lastKind := statusOK
		if last.Failed > 0 || last.Error != "" {
			lastKind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last drain", lastKind, summary, colorize))
		if last.Error != "" {
			lines = append(lines, renderValueLine("Last error", last.Error))
		}
	}
	return lines
}

func retentionSummary(status *ipc.StatusResponse) string {
	parts := ""
	if status.RetentionMaxAge != "" {
		parts = "max age " + status.RetentionMaxAge
	}
	if status.RetentionBytes > 0 {
		if parts != "" {
			parts += ", "
		}
		parts += "max " + formatBytes(status.RetentionBytes)
	}
	return parts
}

// buildSegmentStatusRows lists counts in lifecycle order, unknown statuses last.
func buildSegmentStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	order := map[string]int{
		string(queue.UploadPending):  0,
		string(queue.UploadFailed):   1,
		string(queue.UploadUploaded): 2,
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := order[keys[i]]
		oj, jok := order[keys[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, formatCount(int64(stats[key]))})
	}
	return rows
}
