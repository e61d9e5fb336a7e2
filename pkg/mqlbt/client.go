// Package mqlbt is a Go client for the mqlbt-server HTTP API.
package mqlbt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mqlbt/internal/api"
	"mqlbt/internal/store"
	"mqlbt/internal/strategy"
)

// Request and response types shared with the server.
type (
	BacktestRequest  = api.BacktestRequest
	BacktestResponse = api.BacktestResponse
	SweepRequest     = api.SweepRequest
	SweepResponse    = api.SweepResponse
	ParseResponse    = api.ParseResponse
	DataSource       = api.DataSource
	Error            = api.APIError
)

// Client provides a Go SDK for interacting with the mqlbt-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new mqlbt API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// RunBacktest runs one backtest. A run that fails while executing is
// returned with Success false and a nil error.
func (c *Client) RunBacktest(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep runs a parameter sweep.
func (c *Client) Sweep(ctx context.Context, req *SweepRequest) (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.do(ctx, http.MethodPost, "/api/sweep", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Parse compiles MQL5 source on the server.
func (c *Client) Parse(ctx context.Context, source string) (*ParseResponse, error) {
	var resp ParseResponse
	if err := c.do(ctx, http.MethodPost, "/api/parse", api.ParseRequest{Source: source}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Strategies lists the strategies the server can run.
func (c *Client) Strategies(ctx context.Context) ([]strategy.Info, error) {
	var resp struct {
		Strategies []strategy.Info `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Runs lists saved runs, newest first. limit <= 0 uses the server default.
func (c *Client) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []store.RunRecord `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun returns one saved run with its full report.
func (c *Client) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	var run store.RunRecord
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// do sends a JSON request and decodes the response into out. Non-2xx
// responses are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error   string         `json:"error"`
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return &Error{Code: e.Code, Message: e.Error, Details: e.Details}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
