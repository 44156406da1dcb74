package service

import (
	"context"
	"time"

	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/retriever"
	"llm-retrieval-go/pkg/log"
)

// QueryResult 是一次检索的完整返回，含命中列表与耗时。
type QueryResult struct {
	Results   []model.RetrievalResult `json:"results"`
	Total     int                     `json:"total"`
	LatencyMs int64                   `json:"latency_ms"`
}

// QueryService 接口定义了检索相关的业务操作。
type QueryService interface {
	// Query 执行默认的混合检索。
	Query(ctx context.Context, query string, topK int, threshold *float64, filters []index.MetadataFilter) (*QueryResult, error)
	// HybridSearch 允许调用方自行开关两条召回路。
	HybridSearch(ctx context.Context, query string, topK int, useSemantic, useKeyword bool) (*QueryResult, error)
}

type queryService struct {
	retriever *retriever.Retriever
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(r *retriever.Retriever) QueryService {
	return &queryService{retriever: r}
}

func (s *queryService) Query(ctx context.Context, query string, topK int, threshold *float64, filters []index.MetadataFilter) (*QueryResult, error) {
	return s.run(ctx, query, retriever.Options{
		TopK:                topK,
		SimilarityThreshold: threshold,
		UseSemantic:         true,
		UseKeyword:          true,
		Filters:             filters,
	})
}

func (s *queryService) HybridSearch(ctx context.Context, query string, topK int, useSemantic, useKeyword bool) (*QueryResult, error) {
	return s.run(ctx, query, retriever.Options{
		TopK:        topK,
		UseSemantic: useSemantic,
		UseKeyword:  useKeyword,
	})
}

func (s *queryService) run(ctx context.Context, query string, opts retriever.Options) (*QueryResult, error) {
	start := time.Now()
	results, err := s.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)
	log.Debugf("[QueryService] 检索完成, 命中 %d 条, 耗时 %s", len(results), latency)
	if results == nil {
		results = []model.RetrievalResult{}
	}
	return &QueryResult{
		Results:   results,
		Total:     len(results),
		LatencyMs: latency.Milliseconds(),
	}, nil
}
