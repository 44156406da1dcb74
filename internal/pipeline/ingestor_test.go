package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/chunker"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index/memory"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/pkg/storage"
	"llm-retrieval-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainExtractor 直接把文件字节当作文本。
type plainExtractor struct{}

func (plainExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	return string(data), nil
}

// stubEmbedder 返回固定维度的确定性向量，可注入失败次数。
type stubEmbedder struct {
	failuresLeft int
	failKind     error
	calls        int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, s.failKind
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fixture struct {
	ingestor *Ingestor
	docRepo  repository.DocumentRepository
	blobs    storage.Store
	vec      *memory.VectorIndex
	kw       *memory.KeywordIndex
	embedder *stubEmbedder
}

func newFixture(t *testing.T, embedder *stubEmbedder) *fixture {
	t.Helper()
	splitter, err := chunker.New(50, 10)
	require.NoError(t, err)

	f := &fixture{
		docRepo:  repository.NewMemoryDocumentRepository(),
		blobs:    storage.NewMemoryStore(),
		vec:      memory.NewVectorIndex(2),
		kw:       memory.NewKeywordIndex(),
		embedder: embedder,
	}
	f.ingestor = NewIngestor(
		f.blobs, plainExtractor{}, splitter, f.embedder, f.vec, f.kw, f.docRepo,
		config.EmbeddingConfig{Dimensions: 2, BatchSize: 2},
	)
	return f
}

func seedDocument(t *testing.T, f *fixture, docID, content string) tasks.IngestTask {
	t.Helper()
	ctx := context.Background()
	objectKey := fmt.Sprintf("documents/%s/test.txt", docID)
	require.NoError(t, f.blobs.Put(ctx, objectKey, []byte(content), "text/plain"))
	require.NoError(t, f.docRepo.Create(ctx, &model.Document{
		ID:       docID,
		OwnerID:  1,
		FileName: "test.txt",
		Status:   model.StatusPending,
	}))
	return tasks.IngestTask{
		DocumentID:  docID,
		ObjectKey:   objectKey,
		FileName:    "test.txt",
		ContentType: "text/plain",
		OwnerID:     1,
	}
}

func TestIngestSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubEmbedder{})
	content := strings.Repeat("document ingestion test ", 10)
	task := seedDocument(t, f, "doc-1", content)

	require.NoError(t, f.ingestor.Ingest(ctx, task))

	doc, err := f.docRepo.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.Status)
	assert.Empty(t, doc.FailReason)
	assert.Greater(t, doc.ChunkCount, 1)
	assert.Equal(t, doc.ChunkCount, f.vec.Len())
	assert.Equal(t, doc.ChunkCount, f.kw.Len())

	t.Run("两个索引可检索到分块", func(t *testing.T) {
		hits, err := f.kw.Search(ctx, "ingestion", 100, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, hits)
		for _, h := range hits {
			assert.Equal(t, "doc-1", h.DocumentID)
			assert.Contains(t, h.ChunkID, "doc-1_")
		}

		vhits, err := f.vec.Search(ctx, []float32{1, 0}, 100, nil)
		require.NoError(t, err)
		assert.Len(t, vhits, doc.ChunkCount)
	})
}

func TestIngestRollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	// 校验类错误不可重试，首次失败即回滚
	f := newFixture(t, &stubEmbedder{
		failuresLeft: 100,
		failKind:     apperr.New(apperr.KindValidation, "向量化请求被拒绝"),
	})
	task := seedDocument(t, f, "doc-2", strings.Repeat("rollback scenario ", 10))

	err := f.ingestor.Ingest(ctx, task)
	require.Error(t, err)

	doc, ferr := f.docRepo.FindByID(ctx, "doc-2")
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.NotEmpty(t, doc.FailReason)
	assert.Equal(t, 0, f.vec.Len(), "失败后向量索引不应有残留")
	assert.Equal(t, 0, f.kw.Len(), "失败后关键词索引不应有残留")
}

func TestIngestRetryOnRetryableError(t *testing.T) {
	ctx := context.Background()
	// 前两次向量化失败（可重试），第三次成功
	f := newFixture(t, &stubEmbedder{
		failuresLeft: 2,
		failKind:     apperr.New(apperr.KindEmbedding, "embedding 服务暂时不可用"),
	})
	task := seedDocument(t, f, "doc-3", "short retry document")

	require.NoError(t, f.ingestor.Ingest(ctx, task))

	doc, err := f.docRepo.FindByID(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.Status)
	assert.GreaterOrEqual(t, f.embedder.calls, 3)
}

func TestIngestIdempotentReingest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubEmbedder{})
	task := seedDocument(t, f, "doc-4", strings.Repeat("idempotent reingest ", 10))

	require.NoError(t, f.ingestor.Ingest(ctx, task))
	firstVec, firstKw := f.vec.Len(), f.kw.Len()

	require.NoError(t, f.ingestor.Ingest(ctx, task))
	assert.Equal(t, firstVec, f.vec.Len(), "重复摄取不应增加向量索引记录")
	assert.Equal(t, firstKw, f.kw.Len(), "重复摄取不应增加关键词索引记录")
}

func TestIngestMissingBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubEmbedder{})
	require.NoError(t, f.docRepo.Create(ctx, &model.Document{ID: "doc-5", OwnerID: 1, Status: model.StatusPending}))

	err := f.ingestor.Ingest(ctx, tasks.IngestTask{
		DocumentID: "doc-5",
		ObjectKey:  "documents/doc-5/missing.txt",
		FileName:   "missing.txt",
	})
	require.Error(t, err)

	doc, ferr := f.docRepo.FindByID(ctx, "doc-5")
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, doc.Status)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubEmbedder{})
	task := seedDocument(t, f, "doc-6", strings.Repeat("purge target ", 10))
	other := seedDocument(t, f, "doc-7", strings.Repeat("survivor ", 10))

	require.NoError(t, f.ingestor.Ingest(ctx, task))
	require.NoError(t, f.ingestor.Ingest(ctx, other))

	otherDoc, err := f.docRepo.FindByID(ctx, "doc-7")
	require.NoError(t, err)

	require.NoError(t, f.ingestor.Purge(ctx, "doc-6"))
	assert.Equal(t, otherDoc.ChunkCount, f.vec.Len())
	assert.Equal(t, otherDoc.ChunkCount, f.kw.Len())
}
