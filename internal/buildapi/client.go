// Package buildapi registers build artifacts with the remote build service:
// it issues scoped transfer credentials and accepts completion manifests.
package buildapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay/internal/apiclient"
	"relay/internal/config"
	"relay/internal/services"
)

const component = "buildapi"

// Credentials are short-lived object storage credentials scoped to one build.
type Credentials struct {
	BuildID         string `json:"build_id"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// CompleteRequest is the manifest the server checks the transfer against.
type CompleteRequest struct {
	ExpectedFileCount int    `json:"expected_file_count"`
	ExpectedTotalSize int64  `json:"expected_total_size"`
	ExecutablePath    string `json:"executable_path"`
	OSType            string `json:"os_type"`
	InstanceType      string `json:"instance_type"`
	MaxCapacity       int    `json:"max_capacity"`
}

type credentialsRequest struct {
	Name string `json:"name"`
}

// Client issues build API calls.
type Client struct {
	api     *apiclient.Client
	timeout time.Duration
}

// New constructs a client. A nil doer uses a default http.Client.
func New(baseURL, token string, doer apiclient.HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{api: apiclient.New(baseURL, token, doer, component)}
}

// NewFromConfig builds a client from the [build] section.
func NewFromConfig(cfg *config.Config) *Client {
	c := New(cfg.Build.BaseURL, cfg.Build.Token, &http.Client{})
	c.timeout = time.Duration(cfg.Build.RequestTimeout) * time.Second
	return c
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// RequestCredentials registers a new build and returns its transfer credentials.
func (c *Client) RequestCredentials(ctx context.Context, name string) (Credentials, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Credentials{}, services.Wrap(services.ErrValidation, component, "credentials", "artifact name required", nil)
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	var creds Credentials
	if err := c.api.PostJSON(ctx, "credentials", "/builds/credentials", credentialsRequest{Name: name}, &creds); err != nil {
		return Credentials{}, err
	}
	if creds.BuildID == "" || creds.Bucket == "" || creds.AccessKeyID == "" {
		return Credentials{}, services.Wrap(services.ErrTransient, component, "credentials", "incomplete credentials response", nil)
	}
	return creds, nil
}

// Complete submits the manifest for an uploaded build.
func (c *Client) Complete(ctx context.Context, buildID string, req CompleteRequest) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.api.PostJSON(ctx, "complete", "/builds/"+url.PathEscape(buildID)+"/complete", req, nil)
}
