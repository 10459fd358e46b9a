package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sentra/internal/logger"
)

// 中文说明：
// AI 评论网关。只用于给信号/计划补一段人类可读的论据文本，
// 检测与仓位计算从不依赖它；失败由调用方降级为模板化兜底论据。

// ErrUnavailable AI 评论服务不可用。永远可通过兜底文本恢复。
var ErrUnavailable = errors.New("provider: ai commentary unavailable")

// Assistant 评论服务抽象：填充变量后的提示词换取一段文本。
type Assistant interface {
	Assist(ctx context.Context, prompt string, vars map[string]string) (string, error)
}

// Config OpenAI 兼容端点的客户端配置。
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxTokens    int
	ExtraHeaders map[string]string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// ChatClient OpenAI 兼容 chat/completions 客户端。
// 构造后不再有任何内部状态变更，可被多个评估协程共享。
type ChatClient struct {
	cfg   Config
	httpc *http.Client
}

func NewChatClient(cfg Config) *ChatClient {
	final := cfg.withDefaults()
	return &ChatClient{cfg: final, httpc: &http.Client{Timeout: final.Timeout}}
}

func (c *ChatClient) completionsURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

// RenderPrompt 以 {{name}} 占位符填充变量。
func RenderPrompt(prompt string, vars map[string]string) string {
	out := prompt
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func (c *ChatClient) Assist(ctx context.Context, prompt string, vars map[string]string) (string, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": RenderPrompt(prompt, vars)},
		},
	}
	if c.cfg.MaxTokens > 0 {
		body["max_tokens"] = c.cfg.MaxTokens
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warnf("[provider] chat 请求失败: %s %s", resp.Status, strings.TrimSpace(string(snippet)))
		return "", fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	text := SanitizeThesis(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty content", ErrUnavailable)
	}
	return text, nil
}
