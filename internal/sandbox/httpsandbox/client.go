// Package httpsandbox is an HTTP client for a remote execution sandbox.
package httpsandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drivergen/internal/sandbox"
)

// Client talks to a sandbox service over HTTP. It implements
// sandbox.Sandbox.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the sandbox at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// The per-request deadline comes from the execute timeout; this is
		// an upper bound for everything else (dial, headers, health).
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type executeRequest struct {
	Files     map[string]string `json:"files"`
	TimeoutMS int64             `json:"timeout_ms"`
}

// Execute submits the file set and returns the sandbox's structured result.
// A sandbox-side timeout comes back with TimedOut set; a client-side
// deadline is surfaced as context.DeadlineExceeded for the runner to
// normalize.
func (c *Client) Execute(ctx context.Context, files map[string]string, timeout time.Duration) (sandbox.ExecResult, error) {
	var zero sandbox.ExecResult
	if c == nil || c.baseURL == "" {
		return zero, fmt.Errorf("httpsandbox: base URL not configured")
	}

	body, err := json.Marshal(executeRequest{Files: files, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return zero, fmt.Errorf("httpsandbox: encode request: %w", err)
	}

	// Leave headroom over the sandbox's own budget so its in-band timeout
	// response wins the race against our deadline.
	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("httpsandbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return zero, reqCtx.Err()
		}
		return zero, fmt.Errorf("httpsandbox: execute: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout {
		return sandbox.ExecResult{TimedOut: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return zero, fmt.Errorf("httpsandbox: execute returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out sandbox.ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("httpsandbox: decode response: %w", err)
	}
	return out, nil
}

// IsHealthy probes the sandbox's health endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	if c == nil || c.baseURL == "" {
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
