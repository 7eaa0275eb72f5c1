package llm

import "context"

// Role 标识消息在对话中的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls 仅在 assistant 消息中出现，记录模型请求的工具调用。
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID 与 Name 仅在 tool 消息中出现，用于关联对应的调用。
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall 描述模型请求执行的一次工具调用。Arguments 为原始 JSON 字符串。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec 向模型声明一个可用工具，Parameters 为 JSON Schema。
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request 描述一次模型调用的完整上下文。
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Response 是模型的输出：要么是最终回复，要么是一组工具调用。
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls 判断模型是否请求了工具调用。
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
