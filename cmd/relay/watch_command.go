package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"relay/internal/coordinator"
	"relay/internal/portserver"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var drain bool
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream coordinator events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			socket := ctx.portSocketPath()
			client, err := portserver.Dial(signalCtx, socket)
			if err != nil {
				return wrapDialError(err, socket)
			}
			go func() {
				<-signalCtx.Done()
				_ = client.Close()
			}()

			if err := client.Send(coordinator.Message{Type: coordinator.TypeStatus}); err != nil {
				return fmt.Errorf("request status: %w", err)
			}
			if drain {
				if err := client.Send(coordinator.Message{Type: coordinator.TypeProcessUploads}); err != nil {
					return fmt.Errorf("request drain: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			for seen := 0; limit <= 0 || seen < limit; seen++ {
				msg, err := client.Receive()
				if err != nil {
					if signalCtx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("receive: %w", err)
				}
				if asJSON {
					if err := writeJSON(cmd, msg); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s %-17s %s\n", time.Now().Format("15:04:05"), msg.Type, describeMessage(msg))
			}
			cancel()
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "Request a drain after connecting")
	cmd.Flags().IntVarP(&limit, "count", "n", 0, "Exit after this many messages (0 streams forever)")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

// describeMessage renders a one-line summary of a coordinator message.
func describeMessage(msg coordinator.Message) string {
	switch msg.Type {
	case coordinator.TypeStatus:
		var status coordinator.Status
		if msg.Decode(&status) != nil {
			break
		}
		return fmt.Sprintf("phase=%s ports=%d passes=%d rerun=%s", status.Phase, status.Ports, status.Passes, yesNo(status.Rerun))
	case coordinator.TypeDrainStarted:
		var p coordinator.DrainStartedPayload
		if msg.Decode(&p) != nil {
			break
		}
		return fmt.Sprintf("pass %d (%s)", p.Pass, p.Reason)
	case coordinator.TypeDrainFinished:
		var r coordinator.DrainResult
		if msg.Decode(&r) != nil {
			break
		}
		summary := fmt.Sprintf("pass %d: %d listed, %d uploaded, %d failed, %d dropped in %dms",
			r.Pass, r.Listed, r.Uploaded, r.Failed, r.Dropped, r.DurationMs)
		if r.Error != "" {
			summary += "; error: " + r.Error
		}
		return summary
	case coordinator.TypeSegmentUploaded:
		var p coordinator.SegmentUploadedPayload
		if msg.Decode(&p) != nil {
			break
		}
		return fmt.Sprintf("%s -> %s %s", p.LocalID, p.RemoteID, p.URL)
	case coordinator.TypeSegmentFailed:
		var p coordinator.SegmentFailedPayload
		if msg.Decode(&p) != nil {
			break
		}
		return fmt.Sprintf("%s: %s", p.LocalID, p.Reason)
	case coordinator.TypeError:
		var p coordinator.ErrorPayload
		if msg.Decode(&p) != nil {
			break
		}
		return p.Reason
	}
	return string(msg.Payload)
}

func newMetricsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the daemon's Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			socket := ctx.portSocketPath()
			body, err := fetchPortEndpoint(cmd.Context(), socket, "/metrics")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}

func fetchPortEndpoint(ctx context.Context, socket, path string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://relayd"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := portserver.HTTPClient(socket).Do(req)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return body, nil
}
