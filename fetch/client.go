package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultUserAgent identifies the library to the service.
	DefaultUserAgent = "cubefetch/1.0"

	getPixelsPath     = "/v1/image:getPixels"
	computePixelsPath = "/v1/image:computePixels"
)

// ClientOptions configures the HTTP pixel client.
type ClientOptions struct {
	// Endpoint is the service base URL, without a trailing slash.
	Endpoint string

	// Timeout for individual requests. Default: 60s.
	Timeout time.Duration

	// UserAgent sent with every request. Default: DefaultUserAgent.
	UserAgent string

	// HTTPClient overrides the default client, e.g. to inject an
	// authorized transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is an HTTP PixelService with system proxy support.
type Client struct {
	httpClient *http.Client
	endpoint   string
	userAgent  string
}

// NewClient creates a pixel client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		// Respect system proxy settings.
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   opts.Endpoint,
		userAgent:  userAgent,
	}
}

// GetPixels implements PixelService.
func (c *Client) GetPixels(ctx context.Context, manifest []byte) ([]byte, error) {
	return c.post(ctx, getPixelsPath, manifest)
}

// ComputePixels implements PixelService.
func (c *Client) ComputePixels(ctx context.Context, manifest []byte) ([]byte, error) {
	return c.post(ctx, computePixelsPath, manifest)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network-level failures are worth retrying.
		return nil, &ServiceError{Kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Kind: ErrTransient, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

// errorMessage extracts the human-readable message from a service error
// body, falling back to the raw body.
func errorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
