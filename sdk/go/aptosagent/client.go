// Package aptosagent is a Go client for the aptos-agent HTTP API.
package aptosagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Agent calls may chain several model and tool round
// trips, so it is longer than a plain lookup would need.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the aptos-agent API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Input     string `json:"input"`
}

// Step is one tool call made while answering.
type Step struct {
	Iteration   int    `json:"iteration"`
	ToolCallID  string `json:"tool_call_id"`
	Tool        string `json:"tool"`
	Arguments   string `json:"arguments"`
	Observation string `json:"observation"`
	Error       string `json:"error,omitempty"`
}

// ChatResponse is the agent answer for one turn.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
	Steps     []Step `json:"steps"`
}

// ToolSpec describes a tool the agent can call.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the output of a direct tool invocation.
type ToolResult struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// Frame is a message received on the chat stream.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Step      *Step  `json:"step,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("aptos-agent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("aptos-agent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the aptos-agent API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", parsed.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, dialer: websocket.DefaultDialer}, nil
}

// Chat sends one turn and waits for the final answer.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.send(ctx, http.MethodPost, "/api/v1/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// Tools lists the tools the agent exposes.
func (c *Client) Tools(ctx context.Context) ([]ToolSpec, error) {
	var specs []ToolSpec
	if err := c.send(ctx, http.MethodGet, "/api/v1/tools", nil, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// InvokeTool runs one tool directly, bypassing the model.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var result ToolResult
	if err := c.send(ctx, http.MethodPost, "/api/v1/tools/"+url.PathEscape(name), args, &result); err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// ResetSession clears the chat history kept for sessionID.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/healthz", nil, nil)
}

// StreamChat sends one turn over the WebSocket endpoint and calls onFrame for
// every step frame. It returns the final frame, or an *APIError built from an
// error frame.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onFrame func(Frame)) (Frame, error) {
	wsURL := *c.endpoint("/api/v1/chat/ws")
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return Frame{}, fmt.Errorf("dial chat stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return Frame{}, fmt.Errorf("send chat request: %w", err)
	}
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, fmt.Errorf("read chat stream: %w", err)
		}
		switch frame.Type {
		case "step":
			if onFrame != nil {
				onFrame(frame)
			}
		case "final":
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return frame, nil
		case "error":
			return frame, &APIError{Code: frame.Code, Message: frame.Error, Retryable: frame.Retryable}
		}
	}
}

func (c *Client) endpoint(endpoint string) *url.URL {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	return c.baseURL.ResolveReference(rel)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(endpoint).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
