// Package upstream downloads revision bundles from the management API.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lgulliver/revvault/internal/metrics"
	"github.com/lgulliver/revvault/pkg/config"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/lgulliver/revvault/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// maxErrorBody caps how much of a failed response is echoed into the error
const maxErrorBody = 512

// Client fetches zipped revision bundles
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client authenticated with the configured static token,
// or with application default credentials when no token is set
func NewClient(ctx context.Context, cfg *config.UpstreamConfig) (*Client, error) {
	var ts oauth2.TokenSource
	if cfg.Token != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	} else {
		var err error
		ts, err = google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
	}

	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = cfg.Timeout
	return NewClientWithHTTP(cfg.BaseURL, httpClient), nil
}

// NewClientWithHTTP creates a client that sends requests through httpClient
// as-is
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BundleURL returns the download address of one revision bundle
func (c *Client) BundleURL(org string, kind types.Kind, name, revision string) string {
	return fmt.Sprintf("%s/v1/organizations/%s/%s/%s/revisions/%s?format=bundle",
		c.baseURL,
		url.PathEscape(org),
		kind,
		url.PathEscape(name),
		url.PathEscape(revision))
}

// FetchRevisionBundle downloads the zipped bundle of one revision. Any
// non-2xx status is an error.
func (c *Client) FetchRevisionBundle(ctx context.Context, org string, kind types.Kind, name, revision string) ([]byte, error) {
	startTime := time.Now()
	endpoint := c.BundleURL(org, kind, name, revision)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s revision %s of %s: %w", kind, revision, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("failed to fetch %s revision %s of %s: unexpected status %d: %s",
			kind, revision, name, resp.StatusCode, msg)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	elapsed := time.Since(startTime)
	metrics.ObserveFetch(elapsed)
	log.Info().
		Str("kind", kind.String()).
		Str("name", name).
		Str("revision", revision).
		Str("size", utils.FormatBytes(int64(len(buf)))).
		Dur("duration", elapsed).
		Msg("revision bundle fetched")

	return buf, nil
}
