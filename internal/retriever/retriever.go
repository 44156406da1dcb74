// Package retriever 实现混合检索：向量召回与关键词召回的加权合并。
package retriever

import (
	"context"
	"sort"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/pkg/embedding"
	"llm-retrieval-go/pkg/log"
)

// Options 控制单次检索的行为。零值字段由配置默认值填充。
type Options struct {
	TopK                int
	SimilarityThreshold *float64
	UseSemantic         bool
	UseKeyword          bool
	Filters             []index.MetadataFilter
}

// Retriever 对两个索引做召回并合并打分。
type Retriever struct {
	embedder        embedding.Client
	vec             index.VectorIndex
	kw              index.KeywordIndex
	defaultTopK     int
	threshold       float64
	semanticWeight  float64
	overfetchFactor int
}

// New 创建一个 Retriever。
func New(embedder embedding.Client, vec index.VectorIndex, kw index.KeywordIndex, ragCfg config.RAGConfig) *Retriever {
	return &Retriever{
		embedder:        embedder,
		vec:             vec,
		kw:              kw,
		defaultTopK:     ragCfg.TopK,
		threshold:       ragCfg.SimilarityThreshold,
		semanticWeight:  ragCfg.SemanticWeight,
		overfetchFactor: ragCfg.OverfetchFactor,
	}
}

// scored 记录一个候选块在两种召回下的得分。
type scored struct {
	hit      index.Hit
	semantic float64
	keyword  float64
}

// Retrieve 执行一次混合检索。
// 两种方式都启用时，两个索引各自多召回一些候选，按权重合并后
// 应用阈值过滤，再按综合得分降序、chunk_id 升序截断到 topK。
// 单个索引出错而另一路可用时降级继续，只在日志里留痕。
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]model.RetrievalResult, error) {
	if query == "" {
		return nil, apperr.New(apperr.KindValidation, "查询文本不能为空")
	}
	if !opts.UseSemantic && !opts.UseKeyword {
		return nil, apperr.New(apperr.KindValidation, "至少需要启用一种检索方式")
	}
	topK := opts.TopK
	if topK == 0 {
		topK = r.defaultTopK
	}
	if topK < 1 || topK > 20 {
		return nil, apperr.New(apperr.KindValidation, "top_k 必须在 1 到 20 之间").WithDetail("top_k", topK)
	}
	threshold := r.threshold
	if opts.SimilarityThreshold != nil {
		threshold = *opts.SimilarityThreshold
		if threshold < 0 || threshold > 1 {
			return nil, apperr.New(apperr.KindValidation, "similarity_threshold 必须在 0 到 1 之间")
		}
	}
	fetchK := topK * r.overfetchFactor

	candidates := make(map[string]*scored)
	var semErr, kwErr error

	if opts.UseSemantic {
		semErr = r.collectSemantic(ctx, query, fetchK, opts.Filters, candidates)
	}
	if opts.UseKeyword {
		kwErr = r.collectKeyword(ctx, query, fetchK, opts.Filters, candidates)
	}

	// 仅启用一路时该路失败直接报错；两路都启用时允许单路降级
	if opts.UseSemantic && semErr != nil {
		if !opts.UseKeyword || kwErr != nil {
			return nil, semErr
		}
		log.Warnf("向量检索失败，降级为纯关键词检索: %v", semErr)
	}
	if opts.UseKeyword && kwErr != nil {
		if !opts.UseSemantic || semErr != nil {
			return nil, kwErr
		}
		log.Warnf("关键词检索失败，降级为纯向量检索: %v", kwErr)
	}

	semWeight, kwWeight := r.weights(opts, semErr, kwErr)

	results := make([]model.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		score := semWeight*c.semantic + kwWeight*c.keyword
		if score < threshold {
			continue
		}
		results = append(results, model.RetrievalResult{
			ChunkID:    c.hit.ChunkID,
			DocumentID: c.hit.DocumentID,
			Text:       c.hit.Text,
			Score:      score,
			Metadata:   c.hit.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ChunkID < results[j].ChunkID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// weights 根据实际生效的召回路归一化权重。
// 某一路未启用或已降级时，另一路权重为 1。
func (r *Retriever) weights(opts Options, semErr, kwErr error) (float64, float64) {
	semActive := opts.UseSemantic && semErr == nil
	kwActive := opts.UseKeyword && kwErr == nil
	switch {
	case semActive && kwActive:
		return r.semanticWeight, 1 - r.semanticWeight
	case semActive:
		return 1, 0
	case kwActive:
		return 0, 1
	default:
		return 0, 0
	}
}

func (r *Retriever) collectSemantic(ctx context.Context, query string, fetchK int, filters []index.MetadataFilter, candidates map[string]*scored) error {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return err
	}
	hits, err := r.vec.Search(ctx, vector, fetchK, filters)
	if err != nil {
		return err
	}
	for _, h := range hits {
		c, ok := candidates[h.ChunkID]
		if !ok {
			c = &scored{hit: h}
			candidates[h.ChunkID] = c
		}
		c.semantic = h.Score
	}
	return nil
}

func (r *Retriever) collectKeyword(ctx context.Context, query string, fetchK int, filters []index.MetadataFilter, candidates map[string]*scored) error {
	hits, err := r.kw.Search(ctx, query, fetchK, filters)
	if err != nil {
		return err
	}
	for _, h := range hits {
		c, ok := candidates[h.ChunkID]
		if !ok {
			c = &scored{hit: h}
			candidates[h.ChunkID] = c
		}
		c.keyword = h.Score
	}
	return nil
}
