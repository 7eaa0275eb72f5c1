// Package pythonbridge runs an external script as the chat model. The script
// reads one JSON request from stdin and writes one JSON response to stdout.
package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
)

// Client 通过调用外部脚本实现大模型推理。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	Messages  []llm.Message  `json:"messages"`
	Tools     []llm.ToolSpec `json:"tools"`
	Timestamp int64          `json:"timestamp"`
}

type bridgeResponse struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_calls"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	encoded, err := json.Marshal(bridgeRequest{
		Messages:  req.Messages,
		Tools:     req.Tools,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "Python 脚本执行超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析 Python 输出失败")
	}

	out := &llm.Response{Content: strings.TrimSpace(resp.Content)}
	for idx, call := range resp.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", idx)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        id,
			Name:      call.Name,
			Arguments: argumentsText(call.Arguments),
		})
	}
	return out, nil
}

// argumentsText 兼容脚本以字符串或对象两种形式返回的参数。
func argumentsText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
