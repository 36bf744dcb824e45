package service

import (
	"fmt"
	"strings"

	"dream-weaver-go/internal/config"
)

const (
	defaultInterpretationPrompt = `You are a dream analyst specializing in Jungian psychology. Analyze the following dream transcript. Provide a structured interpretation focusing on archetypes, symbols, and the dreamer's potential emotional state. Structure your response in Markdown with clear headings for 'Core Emotional Theme', 'Key Symbols & Archetypes', and 'Potential Meaning'. Dream: "%s"`

	defaultImagePrompt = `Create a surrealist, dream-like painting representing the core emotional theme of the following dream. Focus on symbolism and abstract concepts over literal depiction. Do not include any text or words in the image. Dream: "%s"`

	defaultChatSystemPrompt = `You are a helpful assistant specializing in dream interpretation, continuing a conversation about a specific dream. Your task is to answer the user's follow-up questions about symbols and themes.
---
ORIGINAL DREAM: "%s"
---
INITIAL INTERPRETATION: "%s"
---
Now, answer the user's question based on this context.`
)

// Prompts 持有三类提示词模板。
type Prompts struct {
	Interpretation string
	Image          string
	ChatSystem     string
}

// NewPrompts 用配置覆盖内置模板，未配置的项保留默认值。
func NewPrompts(cfg config.LLMPromptConfig) Prompts {
	p := Prompts{
		Interpretation: defaultInterpretationPrompt,
		Image:          defaultImagePrompt,
		ChatSystem:     defaultChatSystemPrompt,
	}
	if strings.TrimSpace(cfg.Interpretation) != "" {
		p.Interpretation = cfg.Interpretation
	}
	if strings.TrimSpace(cfg.Image) != "" {
		p.Image = cfg.Image
	}
	if strings.TrimSpace(cfg.ChatSystem) != "" {
		p.ChatSystem = cfg.ChatSystem
	}
	return p
}

func (p Prompts) interpretation(transcript string) string {
	return fmt.Sprintf(p.Interpretation, transcript)
}

func (p Prompts) image(transcript string) string {
	return fmt.Sprintf(p.Image, transcript)
}

func (p Prompts) chatSystem(transcript, interpretation string) string {
	return fmt.Sprintf(p.ChatSystem, transcript, interpretation)
}
