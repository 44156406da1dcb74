package retriever

import (
	"context"
	"errors"
	"testing"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/index/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder 对任何文本返回固定向量。
type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

// failingVectorIndex 的检索总是失败，用于验证降级行为。
type failingVectorIndex struct{}

func (f *failingVectorIndex) Upsert(context.Context, index.Entry) error { return nil }
func (f *failingVectorIndex) Search(context.Context, []float32, int, []index.MetadataFilter) ([]index.Hit, error) {
	return nil, errors.New("index unavailable")
}
func (f *failingVectorIndex) DeleteByDocument(context.Context, string) error { return nil }

func ragCfg() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:           1000,
		ChunkOverlap:        200,
		TopK:                5,
		SimilarityThreshold: 0.7,
		SemanticWeight:      0.5,
		OverfetchFactor:     3,
	}
}

// setupIndexes 构造三个分块：
// a 在两路都是满分，b 在两路都是半分，c 只有向量路且完全不相似。
func setupIndexes(t *testing.T) (*memory.VectorIndex, *memory.KeywordIndex) {
	t.Helper()
	ctx := context.Background()
	vec := memory.NewVectorIndex(2)
	kw := memory.NewKeywordIndex()

	entries := []index.Entry{
		{ChunkID: "a", DocumentID: "d1", Text: "alpha alpha", Embedding: []float32{1, 0}},
		{ChunkID: "b", DocumentID: "d1", Text: "alpha beta", Embedding: []float32{0, 1}},
		{ChunkID: "c", DocumentID: "d2", Text: "gamma delta", Embedding: []float32{-1, 0}},
	}
	for _, e := range entries {
		require.NoError(t, vec.Upsert(ctx, e))
		require.NoError(t, kw.Index(ctx, e))
	}
	return vec, kw
}

func TestRetrieveValidation(t *testing.T) {
	vec, kw := setupIndexes(t)
	r := New(&stubEmbedder{vec: []float32{1, 0}}, vec, kw, ragCfg())
	ctx := context.Background()

	t.Run("空查询被拒绝", func(t *testing.T) {
		_, err := r.Retrieve(ctx, "", Options{UseSemantic: true, UseKeyword: true})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("两路都关闭被拒绝", func(t *testing.T) {
		_, err := r.Retrieve(ctx, "alpha", Options{})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("topK 越界被拒绝", func(t *testing.T) {
		_, err := r.Retrieve(ctx, "alpha", Options{TopK: 21, UseSemantic: true, UseKeyword: true})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("阈值越界被拒绝", func(t *testing.T) {
		bad := 1.5
		_, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &bad, UseSemantic: true, UseKeyword: true})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestRetrieveHybridMerge(t *testing.T) {
	vec, kw := setupIndexes(t)
	r := New(&stubEmbedder{vec: []float32{1, 0}}, vec, kw, ragCfg())
	ctx := context.Background()

	t.Run("默认阈值只留高分", func(t *testing.T) {
		// a: 0.5*1.0 + 0.5*1.0 = 1.0; b: 0.5*0.5 + 0.5*0.5 = 0.5; c: 0.5*0 + 0 = 0
		results, err := r.Retrieve(ctx, "alpha", Options{UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].ChunkID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("降低阈值后按综合分排序", func(t *testing.T) {
		low := 0.4
		results, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &low, UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ChunkID)
		assert.Equal(t, "b", results[1].ChunkID)
		assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	})

	t.Run("阈值过高时返回空而非错误", func(t *testing.T) {
		zeroVec := memory.NewVectorIndex(2)
		require.NoError(t, zeroVec.Upsert(context.Background(), index.Entry{
			ChunkID: "x", DocumentID: "d", Text: "unrelated", Embedding: []float32{0, 1},
		}))
		r2 := New(&stubEmbedder{vec: []float32{1, 0}}, zeroVec, memory.NewKeywordIndex(), ragCfg())
		high := 0.9
		results, err := r2.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &high, UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("topK 截断", func(t *testing.T) {
		zero := 0.0
		results, err := r.Retrieve(ctx, "alpha", Options{TopK: 1, SimilarityThreshold: &zero, UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].ChunkID)
	})
}

func TestRetrieveSingleMethod(t *testing.T) {
	vec, kw := setupIndexes(t)
	r := New(&stubEmbedder{vec: []float32{1, 0}}, vec, kw, ragCfg())
	ctx := context.Background()
	zero := 0.0

	t.Run("纯向量检索权重为 1", func(t *testing.T) {
		results, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &zero, UseSemantic: true})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].ChunkID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("纯关键词检索权重为 1", func(t *testing.T) {
		results, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &zero, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ChunkID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
		assert.InDelta(t, 0.5, results[1].Score, 1e-9)
	})
}

func TestRetrieveDegraded(t *testing.T) {
	_, kw := setupIndexes(t)
	ctx := context.Background()
	zero := 0.0

	t.Run("向量路失败时降级为纯关键词", func(t *testing.T) {
		r := New(&stubEmbedder{vec: []float32{1, 0}}, &failingVectorIndex{}, kw, ragCfg())
		results, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &zero, UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 2)
		// 降级后关键词权重归一化为 1
		assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	})

	t.Run("仅启用的一路失败则报错", func(t *testing.T) {
		r := New(&stubEmbedder{vec: []float32{1, 0}}, &failingVectorIndex{}, kw, ragCfg())
		_, err := r.Retrieve(ctx, "alpha", Options{UseSemantic: true})
		require.Error(t, err)
	})

	t.Run("向量化失败同样触发降级", func(t *testing.T) {
		vec2, kw2 := setupIndexes(t)
		r := New(&stubEmbedder{err: errors.New("embedding unavailable")}, vec2, kw2, ragCfg())
		results, err := r.Retrieve(ctx, "alpha", Options{SimilarityThreshold: &zero, UseSemantic: true, UseKeyword: true})
		require.NoError(t, err)
		require.Len(t, results, 2)
	})
}
