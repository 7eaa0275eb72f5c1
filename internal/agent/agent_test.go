package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/tools"
)

// stubLLM 依次返回预设的响应，并记录收到的请求。
type stubLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	wait      time.Duration
	requests  []llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return &llm.Response{Content: "done"}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func arithmetic(t *testing.T) *tools.Registry {
	t.Helper()
	registry, err := tools.NewRegistry(tools.ArithmeticTools()...)
	if err != nil {
		t.Fatalf("tool registry: %v", err)
	}
	return registry
}

func TestExecutorDirectAnswer(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{{Content: "hey! doing great"}}}
	ex := New(llmClient, arithmetic(t))

	result, err := ex.Invoke(context.Background(), Invocation{Input: "how are you?"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "hey! doing great" || len(result.Steps) != 0 || result.Iterations != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.SessionID == "" {
		t.Fatalf("session id should be generated")
	}

	req := llmClient.requests[0]
	if req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != DefaultSystemPrompt {
		t.Fatalf("system prompt missing: %+v", req.Messages[0])
	}
	if len(req.Tools) != 3 {
		t.Fatalf("tool specs not forwarded: %+v", req.Tools)
	}
}

func TestExecutorToolLoop(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "add", Arguments: `{"a":2,"b":3}`},
			{ID: "c2", Name: "div", Arguments: `{}`},
		}},
		{ToolCalls: []llm.ToolCall{{ID: "c3", Name: "mul", Arguments: `{"a":"x"}`}}},
		{Content: "2 + 3 is 5!"},
	}}
	var observed []Step
	ex := New(llmClient, arithmetic(t))

	result, err := ex.Invoke(context.Background(), Invocation{Input: "what is 2+3?"}, func(s Step) {
		observed = append(observed, s)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != "2 + 3 is 5!" || result.Iterations != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(observed) != 3 || len(result.Steps) != 3 {
		t.Fatalf("expected three steps, got %d/%d", len(observed), len(result.Steps))
	}
	if result.Steps[0].Observation != "5" {
		t.Fatalf("unexpected add observation %q", result.Steps[0].Observation)
	}
	if result.Steps[1].Observation != "div is not a valid tool, try one of [add, sub, mul]." {
		t.Fatalf("unexpected unknown tool observation %q", result.Steps[1].Observation)
	}
	if !strings.HasPrefix(result.Steps[2].Observation, "Error: ") || result.Steps[2].Error == "" {
		t.Fatalf("argument error should become an observation, got %+v", result.Steps[2])
	}

	// 第二次请求应包含 assistant 的工具调用以及两条 tool 消息。
	second := llmClient.requests[1].Messages
	if len(second) != 5 {
		t.Fatalf("unexpected scratchpad length %d", len(second))
	}
	if second[2].Role != llm.RoleAssistant || len(second[2].ToolCalls) != 2 {
		t.Fatalf("assistant tool calls missing: %+v", second[2])
	}
	if second[3].Role != llm.RoleTool || second[3].ToolCallID != "c1" || second[3].Content != "5" {
		t.Fatalf("tool observation missing: %+v", second[3])
	}
}

func TestExecutorIterationLimit(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: "add", Arguments: `{"a":1,"b":1}`}}},
	}}
	ex := New(llmClient, arithmetic(t), WithMaxIterations(3))

	result, err := ex.Invoke(context.Background(), Invocation{Input: "loop"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output != StoppedOutput || !result.Stopped {
		t.Fatalf("expected stop output, got %+v", result)
	}
	if len(llmClient.requests) != 3 || len(result.Steps) != 3 {
		t.Fatalf("expected three iterations, got %d requests", len(llmClient.requests))
	}
}

func TestExecutorTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond}
	ex := New(llmClient, nil, WithLLMTimeout(10*time.Millisecond))

	_, err := ex.Invoke(context.Background(), Invocation{Input: "测试"}, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestExecutorModelFailure(t *testing.T) {
	ex := New(&stubLLM{err: errors.New("connection reset")}, nil)
	_, err := ex.Invoke(context.Background(), Invocation{Input: "hi"}, nil)
	if xerrors.CodeOf(err) != xerrors.CodeModelFailure {
		t.Fatalf("expected model failure, got %v", err)
	}

	if _, err := ex.Invoke(context.Background(), Invocation{Input: "   "}, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty input, got %v", err)
	}
	if _, err := New(nil, nil).Invoke(context.Background(), Invocation{Input: "hi"}, nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestExecutorSessionHistory(t *testing.T) {
	llmClient := &stubLLM{responses: []*llm.Response{{Content: "one"}, {Content: "two"}, {Content: "three"}}}
	ex := New(llmClient, nil, WithMemoryDepth(1), WithSystemPrompt("be brief"))

	first, err := ex.Invoke(context.Background(), Invocation{Input: "a"}, nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := ex.Invoke(context.Background(), Invocation{SessionID: first.SessionID, Input: "b"}, nil); err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := ex.Invoke(context.Background(), Invocation{SessionID: first.SessionID, Input: "c"}, nil); err != nil {
		t.Fatalf("third: %v", err)
	}

	second := llmClient.requests[1].Messages
	if len(second) != 4 || second[1].Content != "a" || second[2].Content != "one" {
		t.Fatalf("history not replayed: %+v", second)
	}
	third := llmClient.requests[2].Messages
	if len(third) != 4 || third[1].Content != "b" || third[0].Content != "be brief" {
		t.Fatalf("history should keep only the last exchange: %+v", third)
	}

	if !ex.ResetSession(first.SessionID) {
		t.Fatalf("expected session to exist")
	}
	if ex.ResetSession(first.SessionID) {
		t.Fatalf("session should be gone after reset")
	}
}
