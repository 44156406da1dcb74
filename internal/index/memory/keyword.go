package memory

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"llm-retrieval-go/internal/index"
)

// 分词规则：小写后仅保留连续的字母/汉字/数字片段，标点全部丢弃。
// 索引与查询共用同一套规则，保证精确片段匹配能排在前面。
var tokenPattern = regexp.MustCompile(`[\p{L}\p{Han}0-9]+`)

// KeywordIndex 是倒排结构的进程内关键词索引，
// 相关性使用词频（TF）加和并按查询内最大原始分归一化到 [0,1]。
type KeywordIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // term -> chunkID -> tf
	entries  map[string]index.Entry    // chunkID -> entry（不保存向量）
	byDoc    map[string][]string       // documentID -> chunkIDs
}

// NewKeywordIndex 创建一个进程内关键词索引。
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		postings: make(map[string]map[string]int),
		entries:  make(map[string]index.Entry),
		byDoc:    make(map[string][]string),
	}
}

// Index 写入或覆盖一条分块的倒排记录。
func (s *KeywordIndex) Index(_ context.Context, entry index.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 覆盖写之前先清理旧倒排
	if _, ok := s.entries[entry.ChunkID]; ok {
		s.removePostings(entry.ChunkID)
	} else {
		s.byDoc[entry.DocumentID] = append(s.byDoc[entry.DocumentID], entry.ChunkID)
	}
	entry.Embedding = nil
	s.entries[entry.ChunkID] = entry

	for _, term := range tokenize(entry.Text) {
		if s.postings[term] == nil {
			s.postings[term] = make(map[string]int)
		}
		s.postings[term][entry.ChunkID]++
	}
	return nil
}

// Search 按词频相关性返回 topK 条命中，分数降序、同分按 chunkID 升序。
// 查询分不出任何词或索引为空时返回空结果而非错误。
func (s *KeywordIndex) Search(_ context.Context, query string, topK int, filters []index.MetadataFilter) ([]index.Hit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := make(map[string]float64)
	for _, term := range terms {
		for chunkID, tf := range s.postings[term] {
			raw[chunkID] += float64(tf)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var maxScore float64
	for _, score := range raw {
		if score > maxScore {
			maxScore = score
		}
	}

	hits := make([]index.Hit, 0, len(raw))
	for chunkID, score := range raw {
		e := s.entries[chunkID]
		if !index.MatchesFilters(e.Metadata, filters) {
			continue
		}
		hits = append(hits, index.Hit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Text:       e.Text,
			Score:      score / maxScore,
			Metadata:   e.Metadata,
		})
	}
	sortHits(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByDocument 原子地删除某文档的全部倒排记录。
func (s *KeywordIndex) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunkID := range s.byDoc[documentID] {
		s.removePostings(chunkID)
		delete(s.entries, chunkID)
	}
	delete(s.byDoc, documentID)
	return nil
}

// Len 返回索引中的分块数，测试用。
func (s *KeywordIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *KeywordIndex) removePostings(chunkID string) {
	e, ok := s.entries[chunkID]
	if !ok {
		return
	}
	for _, term := range tokenize(e.Text) {
		if m := s.postings[term]; m != nil {
			delete(m, chunkID)
			if len(m) == 0 {
				delete(s.postings, term)
			}
		}
	}
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
