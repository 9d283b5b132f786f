package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"relay/internal/ipc"
)

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	segmentsCmd := &cobra.Command{
		Use:     "segments",
		Aliases: []string{"segment"},
		Short:   "Store and inspect recorded segments",
	}
	segmentsCmd.AddCommand(newSegmentsListCommand(ctx))
	segmentsCmd.AddCommand(newSegmentsAddCommand(ctx))
	return segmentsCmd
}

func newSegmentsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list [session-id]",
		Aliases: []string{"ls"},
		Short:   "List sessions, or the segments of one session",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = strings.TrimSpace(args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SegmentList(sessionID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if sessionID == "" {
					if asJSON {
						return writeJSON(cmd, resp.Sessions)
					}
					if len(resp.Sessions) == 0 {
						fmt.Fprintln(out, "No sessions stored")
						return nil
					}
					for _, session := range resp.Sessions {
						fmt.Fprintln(out, session)
					}
					return nil
				}
				if asJSON {
					return writeJSON(cmd, resp.Segments)
				}
				if len(resp.Segments) == 0 {
					fmt.Fprintf(out, "No segments stored for session %s\n", sessionID)
					return nil
				}
				fmt.Fprint(out, segmentTable(resp.Segments).render())
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func segmentTable(segments []ipc.Segment) tableSpec {
	rows := make([][]string, 0, len(segments))
	var total int64
	for _, seg := range segments {
		size := formatBytes(seg.SizeBytes)
		if seg.BlobEvictedAt != "" {
			size = "evicted"
		} else {
			total += seg.SizeBytes
		}
		rows = append(rows, []string{
			seg.SegmentID,
			strconv.Itoa(seg.Sequence),
			formatMillis(seg.StartMediaMs),
			formatMillis(seg.EndMediaMs),
			strconv.FormatInt(seg.OverlapMs, 10),
			size,
			seg.UploadStatus,
			strconv.Itoa(seg.Attempts),
			dashIfEmpty(seg.RemoteID),
		})
	}
	return tableSpec{
		headers: []string{"Segment", "Seq", "Start", "End", "Overlap ms", "Size", "Upload", "Attempts", "Remote"},
		rows:    rows,
		aligns: []columnAlignment{
			alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight, alignLeft,
		},
		footer: []string{fmt.Sprintf("%d segments", len(segments)), "", "", "", "", formatBytes(total)},
	}
}

type segmentAddFlags struct {
	sessionID   string
	segmentID   string
	sequence    int
	startMs     int64
	endMs       int64
	overlapMs   int64
	contentType string
	logFiles    []string
	asJSON      bool
}

func newSegmentsAddCommand(ctx *commandContext) *cobra.Command {
	var flags segmentAddFlags
	cmd := &cobra.Command{
		Use:   "add <blob-file>",
		Short: "Store a recorded segment and queue it for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildSegmentAddRequest(flags, args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SegmentAdd(req)
				if err != nil {
					return err
				}
				if flags.asJSON {
					return writeJSON(cmd, resp.Segment)
				}
				seg := resp.Segment
				fmt.Fprintf(cmd.OutOrStdout(), "Stored segment %s (%s, %s - %s) and queued it for upload\n",
					seg.SegmentID, formatBytes(seg.SizeBytes), formatMillis(seg.StartMediaMs), formatMillis(seg.EndMediaMs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Recording session id (required)")
	cmd.Flags().StringVar(&flags.segmentID, "id", "", "Segment id (generated when empty)")
	cmd.Flags().IntVar(&flags.sequence, "sequence", 0, "Segment sequence number within the session")
	cmd.Flags().Int64Var(&flags.startMs, "start", 0, "Media start offset in milliseconds")
	cmd.Flags().Int64Var(&flags.endMs, "end", 0, "Media end offset in milliseconds")
	cmd.Flags().Int64Var(&flags.overlapMs, "overlap", 0, "Overlap with neighbouring segments in milliseconds")
	cmd.Flags().StringVar(&flags.contentType, "content-type", "", "Blob content type (default video/mp4)")
	cmd.Flags().StringArrayVar(&flags.logFiles, "logs", nil, "JSON file holding a log entry array to attach (repeatable)")
	addJSONFlag(cmd, &flags.asJSON)
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// buildSegmentAddRequest resolves the blob path for the daemon and inlines the
// log files, which must each hold a JSON array.
func buildSegmentAddRequest(flags segmentAddFlags, blobPath string) (ipc.SegmentAddRequest, error) {
	abs, err := filepath.Abs(strings.TrimSpace(blobPath))
	if err != nil {
		return ipc.SegmentAddRequest{}, fmt.Errorf("resolve blob path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ipc.SegmentAddRequest{}, fmt.Errorf("blob file: %w", err)
	}
	if info.IsDir() {
		return ipc.SegmentAddRequest{}, fmt.Errorf("blob file %s is a directory", abs)
	}
	if flags.endMs < flags.startMs {
		return ipc.SegmentAddRequest{}, fmt.Errorf("--end (%d) must not be before --start (%d)", flags.endMs, flags.startMs)
	}

	var logs []json.RawMessage
	for _, path := range flags.logFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return ipc.SegmentAddRequest{}, fmt.Errorf("read log file: %w", err)
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(data, &entries); err != nil {
			return ipc.SegmentAddRequest{}, fmt.Errorf("log file %s must hold a JSON array: %w", path, err)
		}
		logs = append(logs, entries...)
	}

	return ipc.SegmentAddRequest{
		SessionID:    strings.TrimSpace(flags.sessionID),
		SegmentID:    strings.TrimSpace(flags.segmentID),
		Sequence:     flags.sequence,
		StartMediaMs: flags.startMs,
		EndMediaMs:   flags.endMs,
		OverlapMs:    flags.overlapMs,
		ContentType:  strings.TrimSpace(flags.contentType),
		Path:         abs,
		Logs:         logs,
	}, nil
}
