// Package hooks provides the worker client used by the capture hooks.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	// DefaultWorkerPort is the default worker port.
	DefaultWorkerPort = 37790

	// HealthCheckTimeout is the timeout for health checks.
	HealthCheckTimeout = 1 * time.Second

	// StartupTimeout is the timeout for worker startup.
	StartupTimeout = 30 * time.Second

	// RequestTimeout bounds every other worker call.
	RequestTimeout = 10 * time.Second

	portEnv = "VECTORCACHE_WORKER_PORT"
)

// ToolResponse is one completed tool call as sent to the worker's capture
// endpoint.
type ToolResponse struct {
	Arguments       map[string]any `json:"arguments,omitempty"`
	Response        any            `json:"response"`
	ToolName        string         `json:"tool_name"`
	SessionID       string         `json:"session_id,omitempty"`
	UserEmail       string         `json:"user_email,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	PayloadType     string         `json:"payload_type,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms,omitempty"`
}

// StatusError is returned when the worker answers with an error status.
type StatusError struct {
	Body   string
	Status int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned %d", e.Status)
	}
	return fmt.Sprintf("worker returned %d: %s", e.Status, e.Body)
}

// GetWorkerPort returns the worker port from environment or default.
func GetWorkerPort() int {
	if port := os.Getenv(portEnv); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return DefaultWorkerPort
}

// Client talks to a worker's HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a client for the worker at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: RequestTimeout},
	}
}

// NewLocalClient returns a client for the worker on the local port.
func NewLocalClient(port int) *Client {
	return NewClient(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// BaseURL returns the worker address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthy reports whether the worker answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	var out map[string]any
	return c.Do(ctx, http.MethodGet, "/health", nil, &out) == nil
}

// Version returns the version reported by the worker's health check.
func (c *Client) Version(ctx context.Context) string {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.Do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return ""
	}
	return out.Version
}

// CaptureToolResponse posts one tool response for asynchronous storage.
func (c *Client) CaptureToolResponse(ctx context.Context, tr ToolResponse) error {
	return c.Do(ctx, http.MethodPost, "/api/tool-responses", tr, nil)
}

// Do sends a JSON request and decodes the JSON reply into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsPortInUse checks if the port is in use (regardless of health).
func IsPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// EnsureWorkerRunning returns a client for a healthy local worker, starting
// the worker binary when nothing answers on the port.
func EnsureWorkerRunning(ctx context.Context) (*Client, error) {
	port := GetWorkerPort()
	c := NewLocalClient(port)
	if c.Healthy(ctx) {
		if v := c.Version(ctx); v != "" && !versionsCompatible(v, Version) {
			fmt.Fprintf(os.Stderr, "[vectorcache] worker version %s differs from hook version %s\n", v, Version)
		}
		return c, nil
	}
	if IsPortInUse(port) {
		return nil, fmt.Errorf("port %d is in use by an unhealthy process", port)
	}

	workerPath := findWorkerBinary()
	if workerPath == "" {
		return nil, fmt.Errorf("worker binary not found")
	}
	cmd := exec.Command(workerPath) // #nosec G204 -- path comes from findWorkerBinary
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	_ = cmd.Process.Release()

	deadline := time.Now().Add(StartupTimeout)
	backoff := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		if c.Healthy(ctx) {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
	return nil, fmt.Errorf("worker failed to start within %s", StartupTimeout)
}

// findWorkerBinary looks next to the running hook, then on PATH.
func findWorkerBinary() string {
	if exe, err := os.Executable(); err == nil {
		for _, name := range []string{"vectorcache-worker", "worker"} {
			p := filepath.Join(filepath.Dir(exe), name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	if path, err := exec.LookPath("vectorcache-worker"); err == nil {
		return path
	}
	return ""
}

// versionsCompatible treats dev builds and builds sharing a base version as equal.
func versionsCompatible(v1, v2 string) bool {
	if v1 == "dev" || v2 == "dev" {
		return true
	}
	return extractBaseVersion(v1) == extractBaseVersion(v2)
}

// extractBaseVersion extracts the semver base from a version string.
// e.g., "v0.3.5-2-gca711a8-dirty" -> "0.3.5"
func extractBaseVersion(version string) string {
	v := strings.TrimPrefix(version, "v")
	if idx := strings.Index(v, "-"); idx > 0 {
		v = v[:idx]
	}
	return v
}
