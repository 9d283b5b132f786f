package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"relay/internal/ipc"
	"relay/internal/replay"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var startMs, endMs int64
	var exportDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Show which segment clips cover a media window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.ReplayRequest{
				SessionID: strings.TrimSpace(args[0]),
				StartMs:   startMs,
				EndMs:     endMs,
			}
			if dir := strings.TrimSpace(exportDir); dir != "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return fmt.Errorf("resolve export directory: %w", err)
				}
				req.ExportDir = abs
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Replay(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderReplay(cmd.OutOrStdout(), req, resp)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&startMs, "start", 0, "Window start in media milliseconds")
	cmd.Flags().Int64Var(&endMs, "end", 0, "Window end in media milliseconds")
	cmd.Flags().StringVar(&exportDir, "export", "", "Copy the clip blobs and a manifest into this directory")
	addJSONFlag(cmd, &asJSON)
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func renderReplay(out io.Writer, req ipc.ReplayRequest, resp *ipc.ReplayResponse) {
	window := formatMillis(req.StartMs) + " - " + formatMillis(req.EndMs)
	if resp.Unavailable {
		fmt.Fprintf(out, "Replay unavailable: no stored segment of session %s covers %s\n", req.SessionID, window)
		return
	}
	fmt.Fprint(out, clipTable(resp.Clips).render())
	fmt.Fprintln(out, coverageSummary(resp.Coverage))
	for _, gap := range resp.Coverage.Gaps {
		fmt.Fprintf(out, "  gap %s - %s\n", formatMillis(gap.StartMs), formatMillis(gap.EndMs))
	}
	if resp.Manifest != "" {
		fmt.Fprintf(out, "Exported %d clips; manifest at %s\n", len(resp.Clips), resp.Manifest)
	}
}

func clipTable(clips []replay.ClipSource) tableSpec {
	rows := make([][]string, 0, len(clips))
	var total int64
	for i, clip := range clips {
		total += clip.DurationMs()
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			clip.SegmentID,
			formatMillis(clip.StartOffsetMs),
			formatMillis(clip.EndOffsetMs),
			formatMillis(clip.MediaStartMs),
			formatMillis(clip.MediaEndMs),
			formatCount(clip.DurationMs()),
		})
	}
	return tableSpec{
		headers: []string{"#", "Segment", "Clip In", "Clip Out", "Media Start", "Media End", "Duration ms"},
		rows:    rows,
		aligns:  []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
		footer:  []string{"", "", "", "", "", "", formatCount(total)},
	}
}

func coverageSummary(report replay.Report) string {
	span := report.EndMs - report.StartMs
	if span <= 0 {
		return "Coverage: empty"
	}
	percent := float64(report.CoveredMs) * 100 / float64(span)
	return fmt.Sprintf("Coverage: %s of %s ms (%.1f%%), %d gaps",
		formatCount(report.CoveredMs), formatCount(span), percent, len(report.Gaps))
}
