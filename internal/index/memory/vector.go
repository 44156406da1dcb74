// Package memory 提供向量索引与关键词索引的进程内实现。
// 用于无外部依赖的部署模式和单元测试，与 Elasticsearch 后端实现同一组接口。
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/index"
)

// VectorIndex 是基于暴力余弦相似度的进程内向量索引。
// 写入与按文档删除持有写锁，对读者而言单文档的变更是原子的。
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]index.Entry // chunkID -> entry
	byDoc     map[string][]string    // documentID -> chunkIDs
}

// NewVectorIndex 创建一个固定维度的进程内向量索引。
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		entries:   make(map[string]index.Entry),
		byDoc:     make(map[string][]string),
	}
}

// Upsert 写入或覆盖一条分块向量记录。
func (s *VectorIndex) Upsert(_ context.Context, entry index.Entry) error {
	if len(entry.Embedding) != s.dimension {
		return apperr.New(apperr.KindIndex, "向量维度与索引不一致").
			WithDetail("chunk_id", entry.ChunkID).
			WithDetail("expected", s.dimension).
			WithDetail("got", len(entry.Embedding))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[entry.ChunkID]; ok && old.DocumentID != entry.DocumentID {
		s.removeFromDoc(old.DocumentID, entry.ChunkID)
	}
	if _, ok := s.entries[entry.ChunkID]; !ok {
		s.byDoc[entry.DocumentID] = append(s.byDoc[entry.DocumentID], entry.ChunkID)
	}
	s.entries[entry.ChunkID] = entry
	return nil
}

// Search 返回与查询向量最相近的 topK 条记录，按分数降序、
// 同分按 chunkID 升序排列。过滤在候选集上预先应用。
func (s *VectorIndex) Search(_ context.Context, queryEmbedding []float32, topK int, filters []index.MetadataFilter) ([]index.Hit, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, apperr.New(apperr.KindIndex, "查询向量维度与索引不一致").
			WithDetail("expected", s.dimension).
			WithDetail("got", len(queryEmbedding))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]index.Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if !index.MatchesFilters(e.Metadata, filters) {
			continue
		}
		hits = append(hits, index.Hit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Text:       e.Text,
			Score:      normalizedCosine(queryEmbedding, e.Embedding),
			Metadata:   e.Metadata,
		})
	}
	sortHits(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByDocument 原子地删除某文档的全部分块记录。
func (s *VectorIndex) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunkID := range s.byDoc[documentID] {
		delete(s.entries, chunkID)
	}
	delete(s.byDoc, documentID)
	return nil
}

// Len 返回索引中的记录数，测试用。
func (s *VectorIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *VectorIndex) removeFromDoc(documentID, chunkID string) {
	ids := s.byDoc[documentID]
	for i, id := range ids {
		if id == chunkID {
			s.byDoc[documentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// normalizedCosine 计算余弦相似度并把 [-1,1] 线性映射到 [0,1]。
func normalizedCosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}

// sortHits 按分数降序排序，同分按 chunkID 升序保证确定性。
func sortHits(hits []index.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}
