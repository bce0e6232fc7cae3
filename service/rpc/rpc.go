// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package rpc implements the HTTP JSON calling convention shared by the
// remote backend services. Responses from those services are duck typed
// (snake_case or camelCase keys, occasionally nested stringified JSON), so
// this package also provides the helpers that normalize them at the boundary
// into one strongly typed structure per operation.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const apiPath = "/api/v1/"

const responseBodyMaxSizeBytes = 1024 * 1024 // 1MB

// Error is a response level failure reported by the remote service.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"error,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Metrics is the subset of performance counters the client reports to.
type Metrics interface {
	IncRPCRequests(service, status string)
	ObserveRPCLatency(service string, secs float64)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        mlog.LoggerIFace
	metrics    Metrics
	service    string
}

type ClientOption func(c *Client) error

// WithMetrics instruments the client's calls under the given service label.
func WithMetrics(m Metrics, service string) ClientOption {
	return func(c *Client) error {
		if m == nil {
			return fmt.Errorf("metrics should not be nil")
		}
		c.metrics = m
		c.service = service
		return nil
	}
}

func NewClient(cfg Config, log mlog.LoggerIFace, opts ...ClientOption) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log: log,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return c, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "fail"
	}
	c.metrics.IncRPCRequests(c.service, status)
	c.metrics.ObserveRPCLatency(c.service, time.Since(start).Seconds())
}

// Do performs one POST call against the given method endpoint and returns the
// raw response body. Non-2xx responses surface as *Error.
func (c *Client) Do(ctx context.Context, method string, params any) (data json.RawMessage, err error) {
	defer func(start time.Time) {
		c.observe(start, err)
	}(time.Now())

	var body io.Reader
	if params != nil {
		js, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		body = bytes.NewReader(js)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+apiPath+method, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err = io.ReadAll(io.LimitReader(resp.Body, responseBodyMaxSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rpcErr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, rpcErr); err != nil {
			c.log.Debug("rpc: failed to decode error body", mlog.Err(err), mlog.String("method", method))
		}
		return nil, rpcErr
	}

	return data, nil
}

// DoInto performs the call and decodes the normalized response object into v.
func (c *Client) DoInto(ctx context.Context, method string, params, v any) error {
	data, err := c.Do(ctx, method, params)
	if err != nil {
		return err
	}
	if v == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Object decodes a response body into a loose key/value view for field level
// normalization.
func Object(data json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode response object: %w", err)
	}
	return obj, nil
}

// Field returns the first present candidate key from the object. It is how
// snake_case and camelCase variants of the same field are reconciled.
func Field(obj map[string]json.RawMessage, names ...string) json.RawMessage {
	for _, name := range names {
		if v, ok := obj[name]; ok && len(v) > 0 && string(v) != "null" {
			return Unwrap(v)
		}
	}
	return nil
}

// Unwrap peels one level of stringified JSON. Some services return payloads
// as JSON encoded strings containing JSON objects.
func Unwrap(v json.RawMessage) json.RawMessage {
	if len(v) < 2 || v[0] != '"' {
		return v
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return v
	}
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return v
	}
	if !json.Valid([]byte(s)) {
		return v
	}
	return json.RawMessage(s)
}

// Bool reads a boolean field tolerating string encodings.
func Bool(obj map[string]json.RawMessage, names ...string) bool {
	v := Field(obj, names...)
	if v == nil {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s == "true"
	}
	return false
}

// String reads a string field.
func String(obj map[string]json.RawMessage, names ...string) string {
	v := Field(obj, names...)
	if v == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
