package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aptos-agent/internal/agent"
	xerrors "aptos-agent/internal/errors"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsMaxMessageSize = 64 << 10
	wsSendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame 是 WebSocket 上发送给客户端的消息。
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Step      *agent.Step `json:"step,omitempty"`
	Output    string      `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

const (
	FrameStep  = "step"
	FrameFinal = "final"
	FrameError = "error"
)

// wsConn 串行化对连接的写入：所有帧经由 send 通道交给 writePump。
type wsConn struct {
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	pingPeriod time.Duration
	logger     *slog.Logger
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", slog.Any("error", err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			// 尽量发送完已排队的帧后再关闭。
			for {
				select {
				case message := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					_ = c.conn.WriteMessage(websocket.TextMessage, message)
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(wsWriteWait))
					return
				}
			}
		}
	}
}

func (c *wsConn) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("encode websocket frame failed", slog.Any("error", err))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

// handleChatWS 对每个入站 {session_id, input} 依次推送 step 帧与 final 帧。
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsConn{
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		done:       make(chan struct{}),
		pingPeriod: s.wsPongWait * 9 / 10,
		logger:     s.logger,
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.writePump()
	}()

	s.readPump(ctx, client)
	client.close()
	wg.Wait()
}

func (s *Server) readPump(ctx context.Context, client *wsConn) {
	conn := client.conn
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.wsPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket closed unexpectedly", slog.Any("error", err))
			}
			return
		}
		s.handleFrame(ctx, client, message)
		// 处理期间不会读取 pong，处理完成后重新计算读超时。
		_ = conn.SetReadDeadline(time.Now().Add(s.wsPongWait))
	}
}

// handleFrame 执行一次对话并推送 step、final 或 error 帧。
func (s *Server) handleFrame(ctx context.Context, client *wsConn, message []byte) {
	var inv agent.Invocation
	if err := json.Unmarshal(message, &inv); err != nil {
		client.sendFrame(Frame{Type: FrameError, Code: string(xerrors.CodeInvalidArgument), Error: "malformed frame: " + err.Error()})
		return
	}
	if inv.SessionID == "" {
		inv.SessionID = uuid.NewString()
	}

	result, err := s.executor.Invoke(ctx, inv, func(step agent.Step) {
		stepCopy := step
		client.sendFrame(Frame{Type: FrameStep, SessionID: inv.SessionID, Step: &stepCopy})
	})
	if err != nil {
		s.logger.Log(ctx, xerrors.LogLevel(err), "websocket chat failed",
			slog.String("session_id", inv.SessionID),
			slog.Any("error", err),
		)
		frame := Frame{Type: FrameError, SessionID: inv.SessionID, Code: string(xerrors.CodeOf(err)), Error: err.Error()}
		if coded, ok := xerrors.From(err); ok {
			frame.Error = coded.Message()
			frame.Retryable = coded.Retryable()
		}
		client.sendFrame(frame)
		return
	}
	client.sendFrame(Frame{Type: FrameFinal, SessionID: result.SessionID, Output: result.Output})
}
