// Package chunker 将提取出的长文本切分为带重叠的固定大小分块。
package chunker

import (
	"strings"

	"llm-retrieval-go/internal/apperr"
)

// Chunker 按字符数切分文本。相同输入与参数总是产生完全相同的
// 分块序列，这是失败后重新摄取能幂等覆盖旧分块的前提。
type Chunker struct {
	size    int
	overlap int
}

// New 创建一个 Chunker。要求 0 <= overlap < size。
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, apperr.New(apperr.KindValidation, "分块大小必须为正数").WithDetail("size", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.New(apperr.KindValidation, "重叠长度必须满足 0 <= overlap < size").
			WithDetail("size", size).WithDetail("overlap", overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split 将文本切分为有序的分块序列。
// 文本短于 size 时返回恰好一个分块；空白文本会使文档不可索引，
// 因此返回 ValidationError 交由调用方处理。
func (c *Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindValidation, "文本为空，无法生成任何分块")
	}

	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}, nil
	}

	var chunks []string
	step := c.size - c.overlap
	for i := 0; i < len(runes); i += step {
		end := i + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// Size 返回配置的分块大小（字符数）。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回配置的重叠长度（字符数）。
func (c *Chunker) Overlap() int { return c.overlap }
