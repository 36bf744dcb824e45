package service

import (
	"context"
	"fmt"
	"strings"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/pkg/imagegen"
	"dream-weaver-go/pkg/llm"
	"dream-weaver-go/pkg/log"
	"dream-weaver-go/pkg/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AnalysisResult 是一次梦境分析的完整产出。
type AnalysisResult struct {
	ImageURL       string `json:"imageUrl"`
	Interpretation string `json:"interpretation"`
}

// AnalysisGateway 并发请求文字解读和配图，两者都成功才算成功。
type AnalysisGateway interface {
	Analyze(ctx context.Context, transcript string) (AnalysisResult, error)
}

type analysisGateway struct {
	llmClient   llm.Client
	imageClient imagegen.Client
	images      storage.ImageStore
	prompts     Prompts
	gen         *llm.GenerationParams
}

// NewAnalysisGateway 创建一个新的 AnalysisGateway 实例。
func NewAnalysisGateway(llmClient llm.Client, imageClient imagegen.Client, images storage.ImageStore, prompts Prompts, genCfg config.LLMGenerationConfig) AnalysisGateway {
	return &analysisGateway{
		llmClient:   llmClient,
		imageClient: imageClient,
		images:      images,
		prompts:     prompts,
		gen:         llm.ParamsFromConfig(genCfg),
	}
}

// Analyze 同时发起两个子请求并等待全部完成，任一失败都返回 ErrAnalysisFailure。
func (g *analysisGateway) Analyze(ctx context.Context, transcript string) (AnalysisResult, error) {
	var (
		interpretation string
		imageURL       string
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		messages := []llm.Message{{Role: "user", Content: g.prompts.interpretation(transcript)}}
		text, err := g.llmClient.Complete(egCtx, messages, g.gen)
		if err != nil {
			return fmt.Errorf("interpretation: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("interpretation: empty response")
		}
		interpretation = text
		return nil
	})
	eg.Go(func() error {
		png, err := g.imageClient.GenerateImage(egCtx, g.prompts.image(transcript))
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		url, err := g.images.Put(egCtx, uuid.NewString(), png)
		if err != nil {
			return fmt.Errorf("image store: %w", err)
		}
		if url == "" {
			return fmt.Errorf("image store: empty url")
		}
		imageURL = url
		return nil
	})

	if err := eg.Wait(); err != nil {
		log.Errorf("[AnalysisGateway] 梦境分析失败: %v", err)
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalysisFailure, err)
	}
	log.Infof("[AnalysisGateway] 梦境分析完成, 解读长度: %d", len(interpretation))
	return AnalysisResult{ImageURL: imageURL, Interpretation: interpretation}, nil
}
