package model

// ChatRole 是对话轮次的发言方。
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatTurn 代表围绕当前梦境的一轮对话消息。
type ChatTurn struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// CloneTurns 复制对话历史，返回值永远不为 nil。
func CloneTurns(turns []ChatTurn) []ChatTurn {
	out := make([]ChatTurn, len(turns))
	copy(out, turns)
	return out
}
