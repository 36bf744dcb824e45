// Package imagegen provides a client for OpenAI-compatible image generation APIs.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/pkg/log"
)

// Client defines the interface for an image generation client.
type Client interface {
	// GenerateImage 根据提示词生成一张图片，返回 PNG 原始字节。
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type openAICompatibleClient struct {
	cfg    config.ImageConfig
	client *http.Client
}

// NewClient creates a new image client. 未单独配置 api_key/base_url 时沿用 LLM 的配置。
func NewClient(cfg config.ImageConfig, fallback config.LLMConfig) Client {
	if cfg.APIKey == "" {
		cfg.APIKey = fallback.APIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fallback.BaseURL
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateImage calls the images/generations endpoint for a single base64 PNG.
func (c *openAICompatibleClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	log.Infof("[ImageClient] 开始调用图片生成 API, model: %s, size: %s, prompt_len: %d", c.cfg.Model, c.cfg.Size, len(prompt))
	reqBody := imageRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		N:              1,
		Size:           c.cfg.Size,
		ResponseFormat: "b64_json",
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/images/generations", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[ImageClient] 调用图片生成 API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call image api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Errorf("[ImageClient] 图片生成 API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("image api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var imageResp imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&imageResp); err != nil {
		log.Errorf("[ImageClient] 解析图片生成 API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	if len(imageResp.Data) == 0 || imageResp.Data[0].B64JSON == "" {
		log.Warnf("[ImageClient] 图片生成 API 返回了空的图片数据")
		return nil, fmt.Errorf("received empty image from api")
	}

	png, err := base64.StdEncoding.DecodeString(imageResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image bytes: %w", err)
	}
	log.Infof("[ImageClient] 成功获取图片, 大小: %d 字节", len(png))
	return png, nil
}
