// Package client is a Go client for the rfistat HTTP API. It is used by
// the rfistat command line tool and can be embedded in collector agents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xtxerr/rfistat/internal/errors"
	"github.com/xtxerr/rfistat/internal/wire"
)

// Client talks to an rfistat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:8465".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest submits records and returns the per-record results.
func (c *Client) Ingest(ctx context.Context, records []wire.Record) ([]wire.IngestResult, error) {
	body, err := json.Marshal(wire.IngestRequest{Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out wire.IngestResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// QueryParams define a time-range query.
type QueryParams struct {
	StartMs int64
	EndMs   int64
	AgentID string
	Channel *int32
	Limit   int
}

// Query fetches the records in a bounded time range.
func (c *Client) Query(ctx context.Context, p QueryParams) ([]wire.Record, error) {
	v := url.Values{}
	v.Set("start_ms", strconv.FormatInt(p.StartMs, 10))
	v.Set("end_ms", strconv.FormatInt(p.EndMs, 10))
	if p.AgentID != "" {
		v.Set("agent_id", p.AgentID)
	}
	if p.Channel != nil {
		v.Set("channel", strconv.FormatInt(int64(*p.Channel), 10))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/query?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out wire.QueryResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// RunArchive triggers an archive pass on the server.
func (c *Client) RunArchive(ctx context.Context) (wire.ArchiveRunResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/archive/run", nil)
	if err != nil {
		return wire.ArchiveRunResponse{}, err
	}

	var out wire.ArchiveRunResponse
	if err := c.do(req, &out); err != nil {
		return wire.ArchiveRunResponse{}, err
	}
	return out, nil
}

// Stats fetches the raw statistics document.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}

	var out json.RawMessage
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do executes a request and decodes the JSON response into out. Error
// responses are mapped back to the sentinel error for their reason code.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp wire.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Reason != "" {
			if sentinel := errors.ReasonToError(errResp.Reason); sentinel != nil {
				return errors.Wrapf(sentinel, "server returned %d: %s", resp.StatusCode, errResp.Error)
			}
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
