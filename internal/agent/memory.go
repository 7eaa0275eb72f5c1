package agent

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"aptos-agent/internal/llm"
)

// defaultMaxSessions 是同时保留历史的会话数量上限的默认值。
const defaultMaxSessions = 10000

// exchange 记录一轮用户输入与最终回复。
type exchange struct {
	input  string
	output string
}

// Memory 在进程内按会话保存最近的若干轮对话。会话数量超过上限时淘汰最久未使用的会话。
type Memory struct {
	mu       sync.Mutex
	depth    int
	sessions *simplelru.LRU[string, []exchange]
}

// NewMemory 创建会话记忆，depth 为每个会话保留的对话轮数，maxSessions 为会话数量上限。
func NewMemory(depth, maxSessions int) *Memory {
	if depth <= 0 {
		depth = defaultMemoryDepth
	}
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	sessions, err := simplelru.NewLRU[string, []exchange](maxSessions, nil)
	if err != nil {
		// 仅在容量非正时出错，上面已保证容量为正。
		panic(err)
	}
	return &Memory{depth: depth, sessions: sessions}
}

// History 以消息形式返回会话历史，按时间先后排列。
func (m *Memory) History(sessionID string) []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	exchanges, _ := m.sessions.Get(sessionID)
	messages := make([]llm.Message, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: ex.input},
			llm.Message{Role: llm.RoleAssistant, Content: ex.output},
		)
	}
	return messages
}

// Append 追加一轮对话，超出深度时丢弃最早的记录。
func (m *Memory) Append(sessionID, input, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous, _ := m.sessions.Get(sessionID)
	exchanges := make([]exchange, 0, len(previous)+1)
	exchanges = append(exchanges, previous...)
	exchanges = append(exchanges, exchange{input: input, output: output})
	if overflow := len(exchanges) - m.depth; overflow > 0 {
		exchanges = exchanges[overflow:]
	}
	m.sessions.Add(sessionID, exchanges)
}

// Reset 清除会话历史，返回会话此前是否存在。
func (m *Memory) Reset(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Remove(sessionID)
}

// Sessions 返回当前保存的会话数量。
func (m *Memory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}
