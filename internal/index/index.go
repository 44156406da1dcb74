// Package index 定义了向量索引与关键词索引的抽象接口。
// 具体后端（进程内实现、Elasticsearch）在子包中提供，
// 管道与检索器只依赖这里的接口。
package index

import "context"

// Entry 是写入向量索引的一条记录。
// 不变式：每个已索引分块在向量索引和关键词索引中各有且仅有一条记录。
type Entry struct {
	ChunkID    string
	DocumentID string
	Text       string
	Embedding  []float32
	Metadata   map[string]interface{}
}

// Hit 是一次索引查询命中的结果，按分数降序返回。
type Hit struct {
	ChunkID    string
	DocumentID string
	Text       string
	Score      float64
	Metadata   map[string]interface{}
}

// MetadataFilter 是对分块元数据的等值或范围谓词。
// Equals 非 nil 时按等值匹配；Min/Max 非 nil 时对数值做闭区间过滤。
// 返回的结果必须精确满足所有过滤条件。
type MetadataFilter struct {
	Key    string
	Equals interface{}
	Min    *float64
	Max    *float64
}

// VectorIndex 存储分块向量并支持最近邻检索。
// 相似度为余弦相似度，分数归一化到 [0,1]。
type VectorIndex interface {
	Upsert(ctx context.Context, entry Entry) error
	Search(ctx context.Context, queryEmbedding []float32, topK int, filters []MetadataFilter) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// KeywordIndex 对分块文本做倒排式关键词检索，作为语义检索的补充。
// 索引与查询使用一致的分词（小写、去标点）。
type KeywordIndex interface {
	Index(ctx context.Context, entry Entry) error
	Search(ctx context.Context, query string, topK int, filters []MetadataFilter) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}
