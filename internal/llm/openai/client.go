package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/observability/metrics"
)

const (
	// DefaultBaseURL 指向 Gemini 提供的 OpenAI 兼容接口。
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	// DefaultModel 是未配置模型时使用的模型名称。
	DefaultModel   = "gemini-2.0-flash"
	defaultTimeout = 60 * time.Second
)

// Config 描述了调用 Chat Completions API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	Timeout     time.Duration
}

// Client 通过 HTTP 调用兼容 OpenAI 协议的大模型服务。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	httpClient  *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供大模型 API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 返回当前使用的模型名称。
func (c *Client) Model() string { return c.model }

// Generate 发送对话消息与工具声明，返回模型回复或工具调用请求。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建大模型请求失败")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ObserveUpstream("llm", "chat_completions", "error", time.Since(start))
		var timeout interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "请求大模型失败")
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("llm", "chat_completions", strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		opts := []xerrors.Option{
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError),
		}
		// 凭据失效需要人工处理。
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			opts = append(opts, xerrors.WithSeverity(xerrors.SeverityCritical))
		}
		return nil, xerrors.New(xerrors.CodeModelFailure,
			fmt.Sprintf("大模型返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			opts...)
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析大模型响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeModelFailure, "大模型响应中没有有效的 choices")
	}

	message := decoded.Choices[0].Message
	out := &llm.Response{Content: strings.TrimSpace(message.Content)}
	for idx, call := range message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", idx)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeModelFailure, "大模型响应内容为空")
	}
	return out, nil
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Arguments   string         `json:"arguments,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "对话消息不能为空")
	}

	body := completionRequest{
		Model:       c.model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: c.temperature,
	}
	for _, msg := range req.Messages {
		wire := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		body.Messages = append(body.Messages, wire)
	}
	for _, spec := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化大模型请求失败")
	}
	return encoded, nil
}
