// Package replayapi talks to the remote session replay API: presigned upload
// targets, blob PUTs, completion notices and attached logs.
package replayapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay/internal/apiclient"
	"relay/internal/config"
	"relay/internal/services"
)

const component = "replayapi"

// PresignRequest asks for an upload target for one segment.
type PresignRequest struct {
	Sequence     int    `json:"sequence"`
	VideoStartMs int64  `json:"video_start_ms"`
	VideoEndMs   int64  `json:"video_end_ms"`
	ContentType  string `json:"content_type"`
}

// PresignResponse carries the confirmed remote segment id and upload URL.
type PresignResponse struct {
	SegmentID string `json:"segment_id"`
	S3URL     string `json:"s3_url"`
	ExpiresIn int    `json:"expires_in"`
}

type completeRequest struct {
	SegmentID string `json:"segment_id"`
}

type logsRequest struct {
	SessionID string            `json:"session_id"`
	SegmentID string            `json:"segment_id"`
	VideoURL  string            `json:"video_url"`
	Logs      []json.RawMessage `json:"logs"`
}

// Client issues replay API calls.
type Client struct {
	api         *apiclient.Client
	putDoer     apiclient.HTTPDoer
	putTimeout  time.Duration
	callTimeout time.Duration
}

// New constructs a client. A nil doer uses a default http.Client.
func New(baseURL, token string, doer apiclient.HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		api:     apiclient.New(baseURL, token, doer, component),
		putDoer: doer,
	}
}

// NewFromConfig builds a client with the configured timeouts.
func NewFromConfig(cfg *config.Config) *Client {
	c := New(cfg.API.BaseURL, cfg.API.Token, &http.Client{})
	c.callTimeout = time.Duration(cfg.API.RequestTimeout) * time.Second
	c.putTimeout = time.Duration(cfg.API.UploadTimeout) * time.Second
	return c
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func sessionPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/replay/" + suffix
}

// PresignedURL requests a fresh upload target for a segment.
func (c *Client) PresignedURL(ctx context.Context, sessionID string, req PresignRequest) (PresignResponse, error) {
	ctx, cancel := c.withTimeout(ctx, c.callTimeout)
	defer cancel()
	var resp PresignResponse
	if err := c.api.PostJSON(ctx, "presigned-url", sessionPath(sessionID, "presigned-url"), req, &resp); err != nil {
		return PresignResponse{}, err
	}
	if strings.TrimSpace(resp.S3URL) == "" || strings.TrimSpace(resp.SegmentID) == "" {
		return PresignResponse{}, services.Wrap(services.ErrTransient, component, "presigned-url", "response missing segment_id or s3_url", nil)
	}
	return resp, nil
}

// PutBlob uploads raw bytes to a presigned URL. The signature in the URL is the
// credential, so no bearer token is sent.
func (c *Client) PutBlob(ctx context.Context, target, contentType string, blob []byte) error {
	ctx, cancel := c.withTimeout(ctx, c.putTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(blob))
	if err != nil {
		return services.Wrap(services.ErrFatal, component, "put", "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(blob))
	err = c.api.Send(ctx, "put", req, nil)
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusForbidden {
		// Object stores answer 403 once a signature expires; a fresh URL fixes it.
		return services.Wrap(services.ErrTransient, component, "put", "presigned url rejected", statusErr)
	}
	return err
}

// UploadComplete notifies the API that the blob landed.
func (c *Client) UploadComplete(ctx context.Context, sessionID, segmentID string) error {
	ctx, cancel := c.withTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.api.PostJSON(ctx, "upload-complete", sessionPath(sessionID, "upload-complete"), completeRequest{SegmentID: segmentID}, nil)
}

// UploadLogs attaches diagnostic log entries to an uploaded segment. It is a
// no-op when logs is empty.
func (c *Client) UploadLogs(ctx context.Context, sessionID, segmentID, videoURL string, logs []json.RawMessage) error {
	if len(logs) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx, c.callTimeout)
	defer cancel()
	body := logsRequest{
		SessionID: sessionID,
		SegmentID: segmentID,
		VideoURL:  videoURL,
		Logs:      logs,
	}
	return c.api.PostJSON(ctx, "logs", sessionPath(sessionID, "logs"), body, nil)
}

// VideoURL returns the stable object URL for a presigned target.
func VideoURL(s3URL string) string {
	return apiclient.StripQuery(s3URL)
}
