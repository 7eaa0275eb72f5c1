package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aptos-agent/internal/agent"
	xerrors "aptos-agent/internal/errors"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/observability/metrics"
	"aptos-agent/internal/tools"
	"aptos-agent/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Executor 是 API 层依赖的智能体能力。
type Executor interface {
	Invoke(ctx context.Context, inv agent.Invocation, observe agent.StepObserver) (*agent.Result, error)
	ResetSession(sessionID string) bool
}

// ToolSet 是 API 层依赖的工具集合。
type ToolSet interface {
	Specs() []llm.ToolSpec
	InvokeArgs(ctx context.Context, name string, args tools.Args) (string, error)
}

// Server 负责暴露 REST 与 WebSocket 接口，供外部驱动智能体。
type Server struct {
	addr            string
	executor        Executor
	tools           ToolSet
	shutdownTimeout time.Duration
	wsPongWait      time.Duration
	logger          *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithPongWait 设置 WebSocket 连接在两次读取之间允许的最长静默时间。
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wsPongWait = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, executor Executor, toolSet ToolSet, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		executor:        executor,
		tools:           toolSet,
		shutdownTimeout: 5 * time.Second,
		wsPongWait:      wsPongWait,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/chat", metrics.Instrument("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /api/v1/chat/ws", metrics.Instrument("chat_ws", http.HandlerFunc(s.handleChatWS)))
	mux.Handle("GET /api/v1/tools", metrics.Instrument("tools", http.HandlerFunc(s.handleListTools)))
	mux.Handle("POST /api/v1/tools/{name}", metrics.Instrument("tool_invoke", http.HandlerFunc(s.handleInvokeTool)))
	mux.Handle("DELETE /api/v1/sessions/{id}", metrics.Instrument("session_reset", http.HandlerFunc(s.handleResetSession)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", slog.String("address", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown incomplete", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// chatResponse 是 /api/v1/chat 的响应体。
type chatResponse struct {
	SessionID string       `json:"session_id"`
	Output    string       `json:"output"`
	Steps     []agent.Step `json:"steps"`
}

// handleChat 处理一次对话请求。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}

	// 解析请求体。
	var req agent.Invocation
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// 调用智能体。
	result, err := s.executor.Invoke(r.Context(), req, nil)
	if err != nil {
		s.logger.Log(r.Context(), xerrors.LogLevel(err), "chat failed",
			slog.String("session_id", req.SessionID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: result.SessionID,
		Output:    result.Output,
		Steps:     result.Steps,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	specs := []llm.ToolSpec{}
	if s.tools != nil {
		specs = s.tools.Specs()
	}
	writeJSON(w, http.StatusOK, specs)
}

// toolResponse 是直接调用工具的响应体。
type toolResponse struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "工具未初始化"))
		return
	}
	name := r.PathValue("name")

	args := tools.Args{}
	if err := decodeBody(r, &args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}

	output, err := s.tools.InvokeArgs(r.Context(), name, args)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			writeError(w, xerrors.New(xerrors.CodeNotFound, output))
			return
		}
		s.logger.Log(r.Context(), xerrors.LogLevel(err), "tool invocation failed",
			slog.String("tool", name),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{Tool: name, Output: output})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	id := r.PathValue("id")
	if !s.executor.ResetSession(id) {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "会话不存在"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody 解析 JSON 请求体。空请求体返回 io.EOF。
func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

type errorBody struct {
	Error struct {
		Code      xerrors.Code      `json:"code"`
		Message   string            `json:"message"`
		Retryable bool              `json:"retryable"`
		Details   map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = xerrors.CodeOf(err)
	if coded, ok := xerrors.From(err); ok {
		body.Error.Message = coded.Message()
		body.Error.Retryable = coded.Retryable()
		body.Error.Details = coded.Metadata()
	} else if errors.Is(err, io.EOF) {
		body.Error.Code = xerrors.CodeInvalidArgument
		body.Error.Message = "请求体为空"
	} else {
		body.Error.Message = err.Error()
	}
	writeJSON(w, statusFor(body.Error.Code), body)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeModelFailure, xerrors.CodeUpstreamFailure, xerrors.CodeUpstreamStatus, xerrors.CodeDecodeFailure:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure, xerrors.CodeSearchDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
