package model

// RetrievalResult 定义了返回给调用方的单条检索结果。
// 它只在查询期间构造，从不持久化。
type RetrievalResult struct {
	ChunkID    string                 `json:"chunkId"`
	DocumentID string                 `json:"documentId"`
	Text       string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
