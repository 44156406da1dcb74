package service

import (
	"context"
	"testing"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/chunker"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index/memory"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/pipeline"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/pkg/storage"
	"llm-retrieval-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncDispatcher 同步执行摄取，让测试无需等待后台任务。
type syncDispatcher struct {
	ingestor *pipeline.Ingestor
}

func (d *syncDispatcher) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	return d.ingestor.Ingest(ctx, task)
}

// rawTextExtractor 直接把文件字节当作文本。
type rawTextExtractor struct{}

func (rawTextExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	return string(data), nil
}

// fixedEmbedder 对任何输入返回固定向量。
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type docFixture struct {
	svc   DocumentService
	repo  repository.DocumentRepository
	blobs storage.Store
	vec   *memory.VectorIndex
	kw    *memory.KeywordIndex
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	splitter, err := chunker.New(50, 10)
	require.NoError(t, err)

	f := &docFixture{
		repo:  repository.NewMemoryDocumentRepository(),
		blobs: storage.NewMemoryStore(),
		vec:   memory.NewVectorIndex(2),
		kw:    memory.NewKeywordIndex(),
	}
	ingestor := pipeline.NewIngestor(
		f.blobs, rawTextExtractor{}, splitter, fixedEmbedder{}, f.vec, f.kw, f.repo,
		config.EmbeddingConfig{Dimensions: 2, BatchSize: 4},
	)
	f.svc = NewDocumentService(f.repo, f.blobs, ingestor, &syncDispatcher{ingestor: ingestor}, OwnerOrAdmin)
	return f
}

func owner() *model.User {
	return &model.User{ID: 1, Username: "owner", Role: "USER"}
}

func stranger() *model.User {
	return &model.User{ID: 2, Username: "stranger", Role: "USER"}
}

func admin() *model.User {
	return &model.User{ID: 3, Username: "admin", Role: "ADMIN"}
}

func TestDocumentUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("上传后文档被完整索引", func(t *testing.T) {
		f := newDocFixture(t)
		doc, err := f.svc.Upload(ctx, owner(), "note.txt", "text/plain", []byte("hybrid retrieval notes for testing"))
		require.NoError(t, err)
		require.NotEmpty(t, doc.ID)

		got, err := f.svc.Get(ctx, owner(), doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusIndexed, got.Status)
		assert.Equal(t, got.ChunkCount, f.vec.Len())
		assert.Equal(t, got.ChunkCount, f.kw.Len())
	})

	t.Run("不支持的格式被拒绝", func(t *testing.T) {
		f := newDocFixture(t)
		_, err := f.svc.Upload(ctx, owner(), "image.png", "image/png", []byte{0x89, 0x50})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindUnsupportedFormat))
	})

	t.Run("空文件被拒绝", func(t *testing.T) {
		f := newDocFixture(t)
		_, err := f.svc.Upload(ctx, owner(), "empty.txt", "text/plain", nil)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestDocumentOwnership(t *testing.T) {
	ctx := context.Background()
	f := newDocFixture(t)
	doc, err := f.svc.Upload(ctx, owner(), "note.txt", "text/plain", []byte("ownership test content"))
	require.NoError(t, err)

	t.Run("他人访问被拒绝", func(t *testing.T) {
		_, err := f.svc.Get(ctx, stranger(), doc.ID)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("他人删除被拒绝", func(t *testing.T) {
		err := f.svc.Delete(ctx, stranger(), doc.ID)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("管理员可以访问", func(t *testing.T) {
		got, err := f.svc.Get(ctx, admin(), doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, got.ID)
	})

	t.Run("列表只含本人文档", func(t *testing.T) {
		_, err := f.svc.Upload(ctx, stranger(), "other.txt", "text/plain", []byte("someone else's document"))
		require.NoError(t, err)

		docs, total, err := f.svc.List(ctx, owner(), 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, docs, 1)
		assert.Equal(t, doc.ID, docs[0].ID)
	})
}

func TestDocumentDelete(t *testing.T) {
	ctx := context.Background()
	f := newDocFixture(t)
	doc, err := f.svc.Upload(ctx, owner(), "note.txt", "text/plain", []byte("content to be deleted from all stores"))
	require.NoError(t, err)
	require.Greater(t, f.vec.Len(), 0)

	require.NoError(t, f.svc.Delete(ctx, owner(), doc.ID))

	t.Run("元数据已删除", func(t *testing.T) {
		_, err := f.svc.Get(ctx, owner(), doc.ID)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("索引已清空", func(t *testing.T) {
		assert.Equal(t, 0, f.vec.Len())
		assert.Equal(t, 0, f.kw.Len())
	})

	t.Run("原始文件已删除", func(t *testing.T) {
		_, err := f.blobs.Get(ctx, doc.SourceURI)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}
