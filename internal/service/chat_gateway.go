package service

import (
	"context"
	"fmt"
	"strings"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/pkg/llm"
	"dream-weaver-go/pkg/log"
)

// ChatGateway 基于梦境原文和初始解读回答用户的追问。
type ChatGateway interface {
	Respond(ctx context.Context, transcript, interpretation string, history []model.ChatTurn) (string, error)
}

type chatGateway struct {
	llmClient     llm.Client
	prompts       Prompts
	gen           *llm.GenerationParams
	replayHistory bool
}

// NewChatGateway 创建一个新的 ChatGateway 实例。
func NewChatGateway(llmClient llm.Client, prompts Prompts, genCfg config.LLMGenerationConfig, chatCfg config.ChatConfig) ChatGateway {
	return &chatGateway{
		llmClient:     llmClient,
		prompts:       prompts,
		gen:           llm.ParamsFromConfig(genCfg),
		replayHistory: chatCfg.ReplayHistory,
	}
}

// Respond 要求 history 以用户消息结尾。默认只发送最后一条用户消息，
// 开启 replay_history 后发送完整历史。
func (g *chatGateway) Respond(ctx context.Context, transcript, interpretation string, history []model.ChatTurn) (string, error) {
	if len(history) == 0 || history[len(history)-1].Role != model.RoleUser {
		return "", ErrInvalidHistory
	}

	messages := []llm.Message{{Role: "system", Content: g.prompts.chatSystem(transcript, interpretation)}}
	turns := history[len(history)-1:]
	if g.replayHistory {
		turns = history
	}
	for _, turn := range turns {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Text})
	}

	reply, err := g.llmClient.Complete(ctx, messages, g.gen)
	if err != nil {
		log.Errorf("[ChatGateway] 追问回答失败: %v", err)
		return "", fmt.Errorf("%w: %v", ErrChatFailure, err)
	}
	if strings.TrimSpace(reply) == "" {
		log.Warnf("[ChatGateway] 模型返回了空回答")
		return "", fmt.Errorf("%w: empty response", ErrChatFailure)
	}
	return reply, nil
}
