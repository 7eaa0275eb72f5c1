package aptosagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRejectsBadScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com", nil); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestChatPostsInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Input != "what is 2 + 3?" || req.SessionID != "s-1" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			SessionID: req.SessionID,
			Output:    "5",
			Steps:     []Step{{Iteration: 1, Tool: "add", Arguments: `{"a":2,"b":3}`, Observation: "5"}},
		})
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv).Chat(context.Background(), ChatRequest{SessionID: "s-1", Input: "what is 2 + 3?"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Output != "5" || len(resp.Steps) != 1 || resp.Steps[0].Tool != "add" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInvokeToolEscapesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/get_account_balance" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if args["address"] != "0x1" {
			t.Fatalf("unexpected args: %v", args)
		}
		_ = json.NewEncoder(w).Encode(ToolResult{Tool: "get_account_balance", Output: "Balance of 0x1: 1.5 APT"})
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv).InvokeTool(context.Background(), "get_account_balance", map[string]any{"address": "0x1"})
	if err != nil {
		t.Fatalf("invoke tool: %v", err)
	}
	if result.Output != "Balance of 0x1: 1.5 APT" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
}

func TestAPIErrorIsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"session not found"}}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv).ResetSession(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" || apiErr.Message != "session not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestAPIErrorCarriesRetryHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"MODEL_FAILURE","message":"rate limited","retryable":true,"details":{"status":"429"}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Chat(context.Background(), ChatRequest{Input: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Retryable || apiErr.Details["status"] != "429" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestPlainTextErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(t, srv).Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "bad gateway" {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestResetSessionAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/sessions/s-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := newTestClient(t, srv).ResetSession(context.Background(), "s-1"); err != nil {
		t.Fatalf("reset session: %v", err)
	}
}

func TestStreamChatDeliversSteps(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat/ws" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		_ = conn.WriteJSON(Frame{Type: "step", SessionID: "s-1", Step: &Step{Iteration: 1, Tool: "mul", Observation: "12"}})
		_ = conn.WriteJSON(Frame{Type: "final", SessionID: "s-1", Output: "12"})
	}))
	defer srv.Close()

	var steps []Frame
	final, err := newTestClient(t, srv).StreamChat(context.Background(), ChatRequest{Input: "3 * 4"}, func(f Frame) {
		steps = append(steps, f)
	})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if final.Output != "12" {
		t.Fatalf("unexpected final frame: %+v", final)
	}
	if len(steps) != 1 || steps[0].Step == nil || steps[0].Step.Tool != "mul" {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestStreamChatReturnsErrorFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req ChatRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteJSON(Frame{Type: "error", Error: "input is empty", Code: "INVALID_ARGUMENT"})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).StreamChat(context.Background(), ChatRequest{}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_ARGUMENT" {
		t.Fatalf("expected invalid argument api error, got %v", err)
	}
}
