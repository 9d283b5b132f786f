package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"relay/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var opts logs.Options
	var path string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show relayd's current log",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				target = logs.CurrentLog(cfg.Paths.LogDir)
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			return logs.Tail(signalCtx, target, opts, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Keep printing appended lines")
	cmd.Flags().StringVar(&opts.Filter.SessionID, "session", "", "Only lines for this session")
	cmd.Flags().StringVar(&opts.Filter.SegmentID, "segment", "", "Only lines for this segment")
	cmd.Flags().StringVar(&opts.Filter.Component, "component", "", "Only lines from this component")
	cmd.Flags().StringVar(&opts.Filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&path, "file", "", "Read this log file instead of the current relayd log")
	return cmd
}
