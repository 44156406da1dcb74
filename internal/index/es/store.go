package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// esDocument 是存储在 Elasticsearch 中的分块文档结构。
type esDocument struct {
	ChunkID     string                 `json:"chunk_id"`
	DocumentID  string                 `json:"document_id"`
	TextContent string                 `json:"text_content"`
	Vector      []float32              `json:"vector,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Store 同时实现 index.VectorIndex 与 index.KeywordIndex：
// 向量检索走 knn，关键词检索走 match，两者共用同一个索引。
type Store struct {
	client    *elasticsearch.Client
	indexName string
}

// NewStore 创建一个 Elasticsearch 后端的索引存储。
func NewStore(client *elasticsearch.Client, indexName string) *Store {
	return &Store{client: client, indexName: indexName}
}

// Upsert 将分块向量写入 Elasticsearch，文档 ID 使用 chunkID 保证覆盖写。
func (s *Store) Upsert(ctx context.Context, entry index.Entry) error {
	doc := esDocument{
		ChunkID:     entry.ChunkID,
		DocumentID:  entry.DocumentID,
		TextContent: entry.Text,
		Vector:      entry.Embedding,
		Metadata:    entry.Metadata,
	}
	return s.indexDoc(ctx, entry.ChunkID, doc)
}

// Index 关键词侧复用同一条 ES 文档。使用部分更新合并文本字段，
// 不覆盖 Upsert 已写入的向量；文档尚不存在时按 upsert 创建。
func (s *Store) Index(ctx context.Context, entry index.Entry) error {
	doc := esDocument{
		ChunkID:     entry.ChunkID,
		DocumentID:  entry.DocumentID,
		TextContent: entry.Text,
		Metadata:    entry.Metadata,
	}
	body, err := json.Marshal(map[string]interface{}{
		"doc":           doc,
		"doc_as_upsert": true,
	})
	if err != nil {
		return err
	}
	req := esapi.UpdateRequest{
		Index:      s.indexName,
		DocumentID: entry.ChunkID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return apperr.Wrap(apperr.KindIndex, "更新分块关键词记录失败", err).WithDetail("chunk_id", entry.ChunkID)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("更新 Elasticsearch 文档出错: %s", res.String())
		return apperr.New(apperr.KindIndex, "Elasticsearch 返回更新错误").WithDetail("chunk_id", entry.ChunkID)
	}
	return nil
}

func (s *Store) indexDoc(ctx context.Context, id string, doc esDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      s.indexName,
		DocumentID: id,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return apperr.Wrap(apperr.KindIndex, "索引分块到 Elasticsearch 失败", err).WithDetail("chunk_id", id)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return apperr.New(apperr.KindIndex, "Elasticsearch 返回索引错误").WithDetail("chunk_id", id)
	}
	return nil
}

// Search 实现向量最近邻检索（knn），分数即 ES 对 cosine 的 [0,1] 归一化分。
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int, filters []index.MetadataFilter) ([]index.Hit, error) {
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryEmbedding,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter":         buildFilterClause(filters),
		},
		"size": topK,
	}
	return s.doSearch(ctx, esQuery)
}

// SearchKeyword 实现关键词检索（match），原始 BM25 分在返回前
// 按本次查询的最高分归一化到 [0,1]，与向量分可直接加权合并。
func (s *Store) SearchKeyword(ctx context.Context, query string, topK int, filters []index.MetadataFilter) ([]index.Hit, error) {
	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": query,
					},
				},
				"filter": buildFilterClause(filters),
			},
		},
		"size": topK,
	}
	hits, err := s.doSearch(ctx, esQuery)
	if err != nil {
		return nil, err
	}
	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	if maxScore > 0 {
		for i := range hits {
			hits[i].Score /= maxScore
		}
	}
	return hits, nil
}

func (s *Store) doSearch(ctx context.Context, esQuery map[string]interface{}) ([]index.Hit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化 Elasticsearch 查询失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndex, "Elasticsearch 检索请求失败", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, apperr.New(apperr.KindIndex, "Elasticsearch 检索返回错误")
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esDocument `json:"_source"`
				Score  float64    `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 响应失败: %w", err)
	}

	hits := make([]index.Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, index.Hit{
			ChunkID:    h.Source.ChunkID,
			DocumentID: h.Source.DocumentID,
			Text:       h.Source.TextContent,
			Score:      h.Score,
			Metadata:   h.Source.Metadata,
		})
	}
	return hits, nil
}

// DeleteByDocument 通过 delete_by_query 删除某文档的全部分块。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"document_id": documentID,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("序列化删除查询失败: %w", err)
	}

	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		&buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindIndex, "按文档删除索引记录失败", err).WithDetail("document_id", documentID)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("delete_by_query 返回错误: %s", res.String())
		return apperr.New(apperr.KindIndex, "按文档删除索引记录返回错误").WithDetail("document_id", documentID)
	}
	return nil
}

// Keyword 返回本存储的关键词索引视图（index.KeywordIndex）。
// 两个视图共享同一批 ES 文档，删除文档对两侧同时生效。
func (s *Store) Keyword() index.KeywordIndex {
	return keywordView{s}
}

type keywordView struct {
	store *Store
}

func (k keywordView) Index(ctx context.Context, entry index.Entry) error {
	return k.store.Index(ctx, entry)
}

func (k keywordView) Search(ctx context.Context, query string, topK int, filters []index.MetadataFilter) ([]index.Hit, error) {
	return k.store.SearchKeyword(ctx, query, topK, filters)
}

func (k keywordView) DeleteByDocument(ctx context.Context, documentID string) error {
	return k.store.DeleteByDocument(ctx, documentID)
}

// buildFilterClause 把元数据过滤条件翻译为 ES 的 term/range 子句。
func buildFilterClause(filters []index.MetadataFilter) []map[string]interface{} {
	clauses := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		field := "metadata." + f.Key
		if f.Equals != nil {
			clauses = append(clauses, map[string]interface{}{
				"term": map[string]interface{}{field: f.Equals},
			})
		}
		if f.Min != nil || f.Max != nil {
			rng := map[string]interface{}{}
			if f.Min != nil {
				rng["gte"] = *f.Min
			}
			if f.Max != nil {
				rng["lte"] = *f.Max
			}
			clauses = append(clauses, map[string]interface{}{
				"range": map[string]interface{}{field: rng},
			})
		}
	}
	return clauses
}
