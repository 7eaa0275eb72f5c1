package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/observability/metrics"
	"aptos-agent/pkg/logger"
)

// DefaultSystemPrompt 是未配置系统提示词时使用的提示词。
const DefaultSystemPrompt = "you are helpful agent, if a tool is not relevant, answer the user's question directly and chat. " +
	"Never tell your real identity that you are ai or what model you are using. " +
	"Give answer more firendly and chatty, like a human. " +
	"If you don't know the answer, say 'I don't know' or 'I am not sure'."

// StoppedOutput 是迭代次数或执行时间耗尽时返回的输出。
const StoppedOutput = "Agent stopped due to iteration limit or time limit."

const (
	// defaultMemoryDepth 是每个会话保留的对话轮数的默认值。
	defaultMemoryDepth = 5
	// defaultMaxIterations 是单次调用中模型推理次数的默认上限。
	defaultMaxIterations = 15
)

// ToolRunner 是执行器所需的工具集合。
type ToolRunner interface {
	Specs() []llm.ToolSpec
	Invoke(ctx context.Context, name, rawArgs string) (string, error)
}

// Invocation 描述一次用户输入。
type Invocation struct {
	SessionID string `json:"session_id,omitempty"`
	Input     string `json:"input"`
}

// Step 记录一次工具调用及其观察结果。
type Step struct {
	Iteration   int    `json:"iteration"`
	ToolCallID  string `json:"tool_call_id"`
	Tool        string `json:"tool"`
	Arguments   string `json:"arguments"`
	Observation string `json:"observation"`
	Error       string `json:"error,omitempty"`
}

// Result 汇总一次调用的最终输出与中间步骤。
type Result struct {
	SessionID  string `json:"session_id"`
	Output     string `json:"output"`
	Steps      []Step `json:"steps"`
	Iterations int    `json:"iterations"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// StepObserver 在每个工具调用完成后被调用。
type StepObserver func(Step)

// Executor 协调大模型与工具调用，是系统的业务核心。
type Executor struct {
	llmClient        llm.Client
	tools            ToolRunner
	memory           *Memory
	memoryDepth      int
	maxSessions      int
	systemPrompt     string
	maxIterations    int
	maxExecutionTime time.Duration
	llmTimeout       time.Duration
	verbose          bool
	logger           *slog.Logger
}

// Option 定义可选的执行器配置。
type Option func(*Executor)

// WithMemoryDepth 设置每个会话保留的对话轮数。
func WithMemoryDepth(depth int) Option {
	return func(e *Executor) {
		e.memoryDepth = depth
	}
}

// WithMaxSessions 设置同时保留历史的会话数量上限。
func WithMaxSessions(n int) Option {
	return func(e *Executor) {
		e.maxSessions = n
	}
}

// WithMemory 使用外部提供的会话记忆。
func WithMemory(memory *Memory) Option {
	return func(e *Executor) {
		e.memory = memory
	}
}

// WithSystemPrompt 覆盖默认系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(e *Executor) {
		if strings.TrimSpace(prompt) != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithMaxIterations 设置单次调用的模型推理次数上限。
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		e.maxIterations = n
	}
}

// WithMaxExecutionTime 设置单次调用的总耗时上限，0 表示不限制。
func WithMaxExecutionTime(d time.Duration) Option {
	return func(e *Executor) {
		if d < 0 {
			d = 0
		}
		e.maxExecutionTime = d
	}
}

// WithLLMTimeout 设置每次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout <= 0 {
			e.llmTimeout = 0
			return
		}
		e.llmTimeout = timeout
	}
}

// WithVerbose 打开后每个步骤都会以 Info 级别记录。
func WithVerbose(verbose bool) Option {
	return func(e *Executor) {
		e.verbose = verbose
	}
}

// New 创建一个执行器。
func New(llmClient llm.Client, tools ToolRunner, opts ...Option) *Executor {
	// 初始化执行器实例。
	ex := &Executor{
		llmClient:     llmClient,
		tools:         tools,
		memoryDepth:   defaultMemoryDepth,
		systemPrompt:  DefaultSystemPrompt,
		maxIterations: defaultMaxIterations,
		logger:        logger.Named("agent"),
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(ex)
		}
	}
	// 设置默认值。
	if ex.memoryDepth <= 0 {
		ex.memoryDepth = defaultMemoryDepth
	}
	if ex.maxIterations <= 0 {
		ex.maxIterations = defaultMaxIterations
	}
	if ex.memory == nil {
		ex.memory = NewMemory(ex.memoryDepth, ex.maxSessions)
	}
	return ex
}

// Invoke 处理一次用户输入，必要时多轮调用工具，直到模型给出最终回复。
func (e *Executor) Invoke(ctx context.Context, inv Invocation, observe StepObserver) (*Result, error) {
	// 验证必要的组件是否已配置。
	if e.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	// 验证请求的合法性。
	input := strings.TrimSpace(inv.Input)
	if input == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "输入不能为空")
	}
	sessionID := strings.TrimSpace(inv.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	// 组装提示词：系统提示、历史对话、用户输入。
	messages := make([]llm.Message, 0, 8)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: e.systemPrompt})
	messages = append(messages, e.memory.History(sessionID)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	var specs []llm.ToolSpec
	if e.tools != nil {
		specs = e.tools.Specs()
	}

	result := &Result{SessionID: sessionID, Steps: []Step{}}
	start := time.Now()
	finished := false

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		if e.maxExecutionTime > 0 && time.Since(start) >= e.maxExecutionTime {
			break
		}
		result.Iterations = iteration

		// 调用大模型生成响应。
		resp, err := e.generate(ctx, llm.Request{Messages: messages, Tools: specs})
		if err != nil {
			metrics.ObserveAgentIterations(iteration)
			return nil, err
		}

		// 没有工具调用时，模型输出即为最终回复。
		if !resp.HasToolCalls() {
			result.Output = resp.Content
			finished = true
			break
		}

		// 依次执行模型请求的工具，并将观察结果追加到上下文。
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			step := e.runTool(ctx, iteration, call)
			result.Steps = append(result.Steps, step)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    step.Observation,
			})
			if observe != nil {
				observe(step)
			}
		}
	}

	// 迭代次数或执行时间耗尽。
	if !finished {
		result.Output = StoppedOutput
		result.Stopped = true
		e.logger.Warn("agent stopped before a final answer",
			slog.String("session_id", sessionID),
			slog.Int("iterations", result.Iterations),
			slog.Duration("elapsed", time.Since(start)))
	}
	metrics.ObserveAgentIterations(result.Iterations)

	// 记录本轮对话。
	e.memory.Append(sessionID, input, result.Output)
	return result, nil
}

// ResetSession 清除会话历史。
func (e *Executor) ResetSession(sessionID string) bool {
	return e.memory.Reset(sessionID)
}

// Tools 返回执行器使用的工具声明。
func (e *Executor) Tools() []llm.ToolSpec {
	if e.tools == nil {
		return nil
	}
	return e.tools.Specs()
}

func (e *Executor) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if e.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()
	}

	resp, err := e.llmClient.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || xerrors.CodeOf(err) == xerrors.CodeTimeout {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeModelFailure, "大模型未返回任何内容")
	}
	return resp, nil
}

func (e *Executor) runTool(ctx context.Context, iteration int, call llm.ToolCall) Step {
	step := Step{
		Iteration:  iteration,
		ToolCallID: call.ID,
		Tool:       call.Name,
		Arguments:  call.Arguments,
	}

	if e.tools == nil {
		step.Observation = fmt.Sprintf("%s is not a valid tool, try one of [].", call.Name)
		return step
	}

	output, err := e.tools.Invoke(ctx, call.Name, call.Arguments)
	step.Observation = output
	if err != nil {
		step.Error = err.Error()
		if output == "" {
			msg := err.Error()
			if coded, ok := xerrors.From(err); ok {
				msg = coded.Message()
			}
			step.Observation = "Error: " + msg
		}
	}

	level := slog.LevelDebug
	if e.verbose {
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "tool step",
		slog.Int("iteration", iteration),
		slog.String("tool", call.Name),
		slog.String("arguments", call.Arguments),
		slog.String("observation", step.Observation))
	return step
}
