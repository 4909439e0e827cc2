// Package client provides a client for the rigwatch admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/httpapi"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/compaction"
	"github.com/xtxerr/rigwatch/internal/storage/retention"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// =============================================================================
// Errors
// =============================================================================

// APIError is a non-2xx response of the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the status back to an error category so callers can use
// errors.IsNotFound and friends.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return errors.ErrNotFound
	case e.Status == http.StatusBadRequest:
		return errors.ErrInvalidValue
	case e.Status == http.StatusConflict:
		return errors.ErrAlreadyRunning
	case e.Status == http.StatusServiceUnavailable:
		return errors.ErrServiceStopped
	default:
		return errors.ErrInternal
	}
}

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	// Addr is the daemon base URL, e.g. "http://127.0.0.1:9270".
	Addr string

	// RequestTimeout bounds each call whose context has no deadline.
	RequestTimeout time.Duration

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "http://127.0.0.1:9270",
		RequestTimeout: 30 * time.Second,
	}
}

// Client talks to one rigwatch daemon. It is safe for concurrent use.
type Client struct {
	base    string
	timeout time.Duration
	http    *http.Client
}

// New creates a new client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	base := strings.TrimRight(cfg.Addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, timeout: cfg.RequestTimeout, http: hc}
}

// Addr returns the daemon base URL.
func (c *Client) Addr() string {
	return c.base
}

// =============================================================================
// Request/Response
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", method, path, errors.ErrTimeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Administration
// =============================================================================

// Stats returns the storage report.
func (c *Client) Stats(ctx context.Context) (*storage.AdminStats, error) {
	var stats storage.AdminStats
	if err := c.do(ctx, http.MethodGet, "/v1/admin/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health returns the daemon health. A "down" daemon answers 503, which is
// reported as an error.
func (c *Client) Health(ctx context.Context) (*storage.Health, error) {
	var h storage.Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Retention returns the retention windows.
func (c *Client) Retention(ctx context.Context) (types.RetentionConfig, error) {
	var cfg types.RetentionConfig
	err := c.do(ctx, http.MethodGet, "/v1/admin/retention", nil, &cfg)
	return cfg, err
}

// SetRetention replaces the retention windows and returns the stored ones.
func (c *Client) SetRetention(ctx context.Context, cfg types.RetentionConfig) (types.RetentionConfig, error) {
	var out types.RetentionConfig
	err := c.do(ctx, http.MethodPut, "/v1/admin/retention", cfg, &out)
	return out, err
}

// Cleanup deletes rows of one resolution older than olderThan ("36h", "3d").
func (c *Client) Cleanup(ctx context.Context, resolution, olderThan, machineID string) (retention.CleanupResult, error) {
	var out retention.CleanupResult
	err := c.do(ctx, http.MethodPost, "/v1/admin/cleanup", httpapi.CleanupRequest{
		Resolution: resolution,
		OlderThan:  olderThan,
		MachineID:  machineID,
	}, &out)
	return out, err
}

// Reaggregate recomputes summaries over [start, end). An empty resolution
// recomputes hourly and then daily.
func (c *Client) Reaggregate(ctx context.Context, machineID string, start, end time.Time, resolution string) ([]compaction.RunResult, error) {
	var out []compaction.RunResult
	err := c.do(ctx, http.MethodPost, "/v1/admin/reaggregate", httpapi.ReaggregateRequest{
		MachineID:  machineID,
		Start:      timeJSON(start),
		End:        timeJSON(end),
		Resolution: resolution,
	}, &out)
	return out, err
}

// Flush writes everything queued and returns how many samples were written.
func (c *Client) Flush(ctx context.Context) (int, error) {
	var out httpapi.FlushResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/flush", nil, &out)
	return out.Flushed, err
}

// =============================================================================
// Machines
// =============================================================================

// Machines lists the registry.
func (c *Client) Machines(ctx context.Context, activeOnly bool) ([]httpapi.MachineView, error) {
	path := "/v1/machines"
	if activeOnly {
		path += "?active=true"
	}
	var out []httpapi.MachineView
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SetActive sets a machine's active flag.
func (c *Client) SetActive(ctx context.Context, machineID string, active bool) (*httpapi.MachineView, error) {
	var out httpapi.MachineView
	path := "/v1/machines/" + url.PathEscape(machineID) + "/active"
	if err := c.do(ctx, http.MethodPut, path, httpapi.ActiveRequest{Active: &active}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func timeJSON(t time.Time) json.RawMessage {
	b, _ := json.Marshal(t.UTC().Format(time.RFC3339))
	return b
}
