// Package tools implements the named operations the agent can call: Aptos
// explorer lookups, integer arithmetic and web search. Every tool renders its
// result as plain text; upstream failures become text as well, so only
// argument problems surface as errors.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/observability/metrics"
	"aptos-agent/pkg/logger"
)

// ErrUnknownTool is wrapped by Invoke when no tool has the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// ExecuteFunc runs a tool with decoded arguments.
type ExecuteFunc func(ctx context.Context, args Args) (string, error)

// Tool is a named operation with a JSON-schema parameter description.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     ExecuteFunc
}

// Spec returns the declaration handed to the model.
func (t *Tool) Spec() llm.ToolSpec {
	params := t.Parameters
	if params == nil {
		params = objectSchema(nil)
	}
	return llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: params}
}

// Registry keeps tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewRegistry registers tools in the given order.
func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || strings.TrimSpace(tool.Name) == "" || tool.Execute == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool requires a name and an execute function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("tool %s already registered", tool.Name))
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs returns the model declarations in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// UnknownToolMessage is the observation returned for a name that is not
// registered.
func UnknownToolMessage(name string, valid []string) string {
	return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(valid, ", "))
}

// Invoke decodes rawArgs and runs the named tool. For an unknown tool the
// returned text is the observation for the model and the error wraps
// ErrUnknownTool.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		metrics.ObserveTool(metrics.UnknownTool, "unknown")
		return UnknownToolMessage(name, r.Names()),
			xerrors.Wrap(xerrors.CodeNotFound, ErrUnknownTool, fmt.Sprintf("tool %s is not registered", name))
	}
	args, err := ParseArgs(rawArgs)
	if err != nil {
		metrics.ObserveTool(name, "invalid_args")
		return "", err
	}
	return r.run(ctx, tool, args)
}

// InvokeArgs runs the named tool with already decoded arguments.
func (r *Registry) InvokeArgs(ctx context.Context, name string, args Args) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		metrics.ObserveTool(metrics.UnknownTool, "unknown")
		return UnknownToolMessage(name, r.Names()),
			xerrors.Wrap(xerrors.CodeNotFound, ErrUnknownTool, fmt.Sprintf("tool %s is not registered", name))
	}
	if args == nil {
		args = Args{}
	}
	return r.run(ctx, tool, args)
}

func (r *Registry) run(ctx context.Context, tool *Tool, args Args) (string, error) {
	start := time.Now()
	output, err := tool.Execute(ctx, args)
	outcome := "ok"
	if err != nil {
		outcome = "invalid_args"
	}
	metrics.ObserveTool(tool.Name, outcome)

	attrs := []any{
		slog.String("tool", tool.Name),
		slog.Any("args", map[string]any(args)),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	logger.Audit().InfoContext(ctx, "tool invoked", attrs...)
	return output, err
}

// IsArgumentError reports whether err came from argument validation rather
// than the tool body.
func IsArgumentError(err error) bool {
	return err != nil && !errors.Is(err, ErrUnknownTool) && xerrors.CodeOf(err) == xerrors.CodeInvalidArgument
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func property(kind, description string) map[string]any {
	return map[string]any{"type": kind, "description": description}
}
