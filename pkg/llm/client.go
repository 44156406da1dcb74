// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/pkg/log"
)

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage 记录一次生成消耗的 token 数。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationParams 控制生成行为。
type GenerationParams struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// StreamDelta 是流式生成的一个增量片段。
// 流以 Done=true 的片段结束：成功时携带 Usage，失败时携带 Err。
// 生产方在 ctx 取消后停止推送并尽快关闭通道，不遗留后台工作。
type StreamDelta struct {
	Content string
	Done    bool
	Usage   *Usage
	Err     error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以完整应答方式调用聊天接口。
	Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, *Usage, error)
	// ChatStream 以流式方式调用聊天接口，增量片段经返回的通道交付。
	// 通道在终止片段之后关闭；调用方取消 ctx 即可停止生成。
	ChatStream(ctx context.Context, messages []Message, gen *GenerationParams) (<-chan StreamDelta, error)
}

type openAICompatibleClient struct {
	cfg          config.LLMConfig
	client       *http.Client
	streamClient *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &openAICompatibleClient{
		cfg: cfg,
		// 批式调用整个往返有界超时
		client: &http.Client{Timeout: timeout},
		// 流式响应的读取时长取决于生成长度，只对响应头阶段限时；
		// 读取阶段的中断由 ctx 和响应体关闭负责
		streamClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
	}
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *openAICompatibleClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		reqBody.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	// 传参优先生效，未传时回退到配置中的生成参数
	if gen != nil {
		if gen.Model != "" {
			reqBody.Model = gen.Model
		}
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}
	if reqBody.Temperature == nil && c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if reqBody.TopP == nil && c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if reqBody.MaxTokens == nil && c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

func (c *openAICompatibleClient) doRequest(ctx context.Context, reqBody chatRequest, sse bool) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}

	httpClient := c.client
	if sse {
		httpClient = c.streamClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneration, "调用生成后端失败", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apperr.New(apperr.KindGeneration, "生成后端返回非 200 状态").
			WithDetail("status", resp.Status).
			WithDetail("body", string(bodyBytes))
	}
	return resp, nil
}

// Chat 以完整应答方式调用聊天接口。
func (c *openAICompatibleClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, *Usage, error) {
	resp, err := c.doRequest(ctx, c.buildRequest(messages, gen, false), false)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", nil, apperr.Wrap(apperr.KindGeneration, "解析生成响应失败", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", nil, apperr.New(apperr.KindGeneration, "生成后端返回了空的选择列表")
	}
	content := chatResp.Choices[0].Message.Content
	usage := chatResp.Usage
	if usage == nil {
		usage = estimateUsage(messages, content)
	}
	return content, usage, nil
}

// ChatStream 流式调用聊天接口。片段由后台 goroutine 推送进通道，
// ctx 取消会关闭底层响应体并立即结束推送。
func (c *openAICompatibleClient) ChatStream(ctx context.Context, messages []Message, gen *GenerationParams) (<-chan StreamDelta, error) {
	resp, err := c.doRequest(ctx, c.buildRequest(messages, gen, true), true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamDelta, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(out)
		defer close(readerDone)
		defer resp.Body.Close()

		var usage *Usage
		var completion strings.Builder
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF || ctx.Err() != nil {
					break
				}
				c.emit(ctx, out, StreamDelta{Done: true, Err: apperr.Wrap(apperr.KindGeneration, "读取生成流失败", err)})
				return
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				break
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				content := chunk.Choices[0].Delta.Content
				completion.WriteString(content)
				if !c.emit(ctx, out, StreamDelta{Content: content}) {
					return
				}
			}
		}

		if ctx.Err() != nil {
			c.emit(context.Background(), out, StreamDelta{Done: true, Err: ctx.Err()})
			return
		}
		if usage == nil {
			usage = estimateUsage(messages, completion.String())
		}
		c.emit(ctx, out, StreamDelta{Done: true, Usage: usage})
	}()

	// ctx 取消时关闭响应体，促使上面的读循环尽快退出；
	// 流正常结束后该 goroutine 随 readerDone 退出，不会滞留
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-readerDone:
		}
	}()

	return out, nil
}

func (c *openAICompatibleClient) emit(ctx context.Context, out chan<- StreamDelta, d StreamDelta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// estimateUsage 在后端不返回用量时做粗略估算（约 4 字符一个 token）。
func estimateUsage(messages []Message, completion string) *Usage {
	promptChars := 0
	for _, m := range messages {
		promptChars += utf8.RuneCountInString(m.Content)
	}
	u := &Usage{
		PromptTokens:     promptChars / 4,
		CompletionTokens: utf8.RuneCountInString(completion) / 4,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	log.Debugf("[LLMClient] 后端未返回用量, 使用估算值: %+v", u)
	return u
}
