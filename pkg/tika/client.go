// Package tika 提供了一个与 Apache Tika 服务器交互的文本提取客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
)

// supportedTypes 是允许上传并提取文本的文档类型。
var supportedTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// Supported 返回该内容类型是否可提取文本。
func Supported(contentType string) bool {
	return supportedTypes[contentType]
}

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL string
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{serverURL: cfg.ServerURL}
}

// Extract 从原始字节中提取纯文本。
// 不支持的内容类型返回 UnsupportedFormat 错误；纯文本直接透传，
// 不经过 Tika 服务器。
func (c *Client) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if !Supported(contentType) {
		return "", apperr.New(apperr.KindUnsupportedFormat, "不支持的文档类型").
			WithDetail("content_type", contentType)
	}
	if contentType == "text/plain" || contentType == "text/markdown" {
		return string(data), nil
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return buf.String(), nil
}
