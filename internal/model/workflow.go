package model

import "encoding/json"

// WorkflowState 是录音/分析/对话流程所处的状态，任一时刻只有一个生效。
type WorkflowState int

const (
	StateIdle WorkflowState = iota
	StateRecording
	StateAnalyzing
	StateComplete
	StateError
)

var stateNames = [...]string{"idle", "recording", "analyzing", "complete", "error"}

func (s WorkflowState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalJSON 以字符串形式输出状态名。
func (s WorkflowState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// WorkflowSnapshot 是流程控制器在某一时刻的只读快照，供视图渲染。
type WorkflowSnapshot struct {
	State          WorkflowState `json:"state"`
	Error          string        `json:"error,omitempty"`
	LiveTranscript string        `json:"liveTranscript,omitempty"`
	ActiveDream    *DreamEntry   `json:"activeDream,omitempty"`
	ChatHistory    []ChatTurn    `json:"chatHistory"`
	ChatPending    bool          `json:"chatPending"`
}
