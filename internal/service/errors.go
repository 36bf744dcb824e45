// Package service 包含了应用的业务逻辑层。
package service

import "errors"

var (
	// ErrUnsupportedCapability 宿主环境没有可用的语音识别能力。
	ErrUnsupportedCapability = errors.New("speech recognition unsupported")
	// ErrTranscriptTooShort 录音转写过短，需要重新录制。
	ErrTranscriptTooShort = errors.New("transcript too short")
	// ErrAnalysisFailure 解读或配图任一子请求失败。
	ErrAnalysisFailure = errors.New("dream analysis failed")
	// ErrChatFailure 追问对话调用失败，由控制器以兜底回复吸收。
	ErrChatFailure = errors.New("chat response failed")
	// ErrInvalidHistory 对话历史为空或最后一条不是用户消息，属于编程错误。
	ErrInvalidHistory = errors.New("chat history must end with a user turn")
	// ErrPersistence 日志持久化失败，只记录日志不向外传播。
	ErrPersistence = errors.New("journal persistence failed")

	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrDreamNotFound     = errors.New("dream not found")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrChatBusy          = errors.New("a chat response is already pending")
	ErrSessionNotFound   = errors.New("session not found")
)

// 面向用户的提示文案。
const (
	MsgUnsupported     = "Speech recognition is not supported in your browser."
	MsgTooShort        = "Dream recording is too short. Please try again and describe your dream in more detail."
	MsgAnalysisFailure = "Failed to analyze the dream. The spirits are troubled. Please try again."
)
