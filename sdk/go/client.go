package airlift

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is the Airlift API client.
type Client struct {
	baseURL    string
	uploaderID int64
	fleetID    int64
	httpClient *http.Client
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the server address, e.g. "https://airlift.example.com".
	BaseURL string
	// UploaderID and FleetID identify the caller to the gateway. Zero values
	// fall back to the server's single-tenant defaults.
	UploaderID int64
	FleetID    int64
	// Timeout bounds a whole request including the body transfer. Defaults
	// to 5 minutes to accommodate large chunks on slow links.
	Timeout time.Duration
	// RetryMax is the number of retries for transient failures. Defaults
	// to 3.
	RetryMax int
}

// NewClient creates an Airlift client. Transient network and 5xx failures
// are retried with exponential backoff.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "is required"}
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &ValidationError{Field: "BaseURL", Message: "must be a valid http or https URL"}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	retryMax := cfg.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		uploaderID: cfg.UploaderID,
		fleetID:    cfg.FleetID,
		httpClient: rc.StandardClient(),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// newRequest builds a request with the identity headers attached.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.uploaderID > 0 {
		req.Header.Set("X-Airlift-Uploader", strconv.FormatInt(c.uploaderID, 10))
	}
	if c.fleetID > 0 {
		req.Header.Set("X-Airlift-Fleet", strconv.FormatInt(c.fleetID, 10))
	}
	return req, nil
}

// do executes the request and decodes the reply into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp.StatusCode, resp.Body, out)
}

// ListUploads fetches one page of the fleet's uploads.
func (c *Client) ListUploads(ctx context.Context, currentPage, pageSize int) (*UploadListPage, error) {
	path := fmt.Sprintf("/api/upload?currentPage=%d&pageSize=%d", currentPage, pageSize)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var page UploadListPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListImports fetches one page of import pipeline results.
func (c *Client) ListImports(ctx context.Context, currentPage, pageSize int) (*ImportListPage, error) {
	path := fmt.Sprintf("/api/upload/imported?currentPage=%d&pageSize=%d", currentPage, pageSize)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var page ImportListPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteUpload removes an upload and everything attached to it.
func (c *Client) DeleteUpload(ctx context.Context, uploadID int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/upload/%d", uploadID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DownloadUpload streams the assembled file into w. A non-empty md5hash is
// passed to the server for verification against the stored content.
func (c *Client) DownloadUpload(ctx context.Context, uploadID int64, md5hash string, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/api/upload/%d/file", uploadID)
	if md5hash != "" {
		path += "?md5hash=" + url.QueryEscape(md5hash)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeResponse(resp.StatusCode, resp.Body, nil)
	}

	return io.Copy(w, resp.Body)
}

// GetServiceStatus probes one named service on the server.
func (c *Client) GetServiceStatus(ctx context.Context, serviceName string) (*ServiceStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/status/"+url.PathEscape(serviceName), nil)
	if err != nil {
		return nil, err
	}

	var status ServiceStatus
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
