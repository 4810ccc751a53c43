// Package rpc talks to the separation server outside the progress stream:
// JSON-RPC tool calls on /mcp and the REST status, cleanup and health endpoints.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"stemwatch/internal/model"
	"stemwatch/internal/util"
)

// DefaultTimeout bounds a single side-channel request.
const DefaultTimeout = 30 * time.Second

const maxBody = 4 << 20

var (
	// ErrNoJobID is returned when a job-scoped call is made without a job id.
	ErrNoJobID = errors.New("job id is required")
	// ErrServer is returned when the server answers with an error envelope.
	ErrServer = errors.New("server reported an error")
	// ErrToolFailed is returned when a tool call succeeds at the protocol
	// level but the tool reports a failure.
	ErrToolFailed = errors.New("tool call failed")
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Client calls the server side channel.
type Client struct {
	base    string
	http    *http.Client
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := util.NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, errors.WithHint(err, "use a server address like http://localhost:5000")
	}
	c := &Client{
		base:    base,
		http:    &http.Client{},
		logger:  zap.NewNop().Sugar(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends an HTTP request and returns the status code and body.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrapf(err, "read %s %s", method, url)
	}
	c.logger.Debugw("Side channel request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return resp.StatusCode, data, nil
}

// call performs one JSON-RPC request and returns the raw result.
func (c *Client) call(ctx context.Context, method mcp.MCPMethod, params any) (json.RawMessage, error) {
	req := request{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      uuid.NewString(),
		Method:  string(method),
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request", method)
	}

	status, data, err := c.do(ctx, http.MethodPost, c.base+"/mcp", body)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrapf(err, "%s: HTTP %d: undecodable response %q", method, status, snippet(data))
	}
	if resp.Error != nil {
		return nil, errors.Wrapf(resp.Error, "%s", method)
	}
	if status/100 != 2 {
		return nil, errors.Newf("%s: HTTP %d", method, status)
	}
	if id, ok := resp.ID.(string); ok && id != req.ID {
		c.logger.Warnw("JSON-RPC response id mismatch", "method", method, "sent", req.ID, "got", id)
	}
	return resp.Result, nil
}

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := c.call(ctx, mcp.MethodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	var res mcp.ListToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "decode tools list")
	}
	return res.Tools, nil
}

// CallTool invokes a tool and returns its result as sent by the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	raw, err := c.call(ctx, mcp.MethodToolsCall, mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	res, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s result", name)
	}
	return res, nil
}

// callToolJSON invokes a tool whose first text content is a JSON document
// and decodes it into out. A top-level "error" field is a tool failure.
func (c *Client) callToolJSON(ctx context.Context, name string, args map[string]any, out any) error {
	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	text := resultText(res)
	if res.IsError {
		return errors.Wrapf(ErrToolFailed, "%s: %s", name, text)
	}
	if text == "" {
		return errors.Wrapf(ErrToolFailed, "%s: empty result", name)
	}

	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &failure); err == nil && failure.Error != "" {
		return errors.Wrapf(ErrToolFailed, "%s: %s", name, failure.Error)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return errors.Wrapf(err, "decode %s result %q", name, snippet([]byte(text)))
	}
	return nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// getEnvelope performs a REST call answering with {status, message, data}.
func (c *Client) getEnvelope(ctx context.Context, method, url string) (int, model.Envelope, error) {
	status, data, err := c.do(ctx, method, url, nil)
	if err != nil {
		return status, model.Envelope{}, err
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return status, model.Envelope{}, errors.Wrapf(err, "%s %s: HTTP %d: undecodable response %q", method, url, status, snippet(data))
	}
	if env.Status == "error" || (env.Error != "" && env.Status == "") {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return status, env, errors.Wrapf(ErrServer, "%s", msg)
	}
	if status/100 != 2 {
		return status, env, errors.Newf("%s %s: HTTP %d", method, url, status)
	}
	return status, env, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
