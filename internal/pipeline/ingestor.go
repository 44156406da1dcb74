// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/chunker"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/pkg/embedding"
	"llm-retrieval-go/pkg/log"
	"llm-retrieval-go/pkg/storage"
	"llm-retrieval-go/pkg/tasks"
)

// TextExtractor 从原始文件字节中提取纯文本。
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// Ingestor 封装了文档摄取的所有依赖和逻辑：
// 下载、提取、分块、向量化、双索引写入、状态流转。
type Ingestor struct {
	blobs        storage.Store
	extractor    TextExtractor
	splitter     *chunker.Chunker
	embedder     embedding.Client
	vec          index.VectorIndex
	kw           index.KeywordIndex
	docRepo      repository.DocumentRepository
	embeddingCfg config.EmbeddingConfig

	// 同一文档的摄取与删除互斥，防止并发写索引交错
	docLocks sync.Map // documentID -> *sync.Mutex
}

// NewIngestor 创建一个新的 Ingestor 实例。
func NewIngestor(
	blobs storage.Store,
	extractor TextExtractor,
	splitter *chunker.Chunker,
	embedder embedding.Client,
	vec index.VectorIndex,
	kw index.KeywordIndex,
	docRepo repository.DocumentRepository,
	embeddingCfg config.EmbeddingConfig,
) *Ingestor {
	return &Ingestor{
		blobs:        blobs,
		extractor:    extractor,
		splitter:     splitter,
		embedder:     embedder,
		vec:          vec,
		kw:           kw,
		docRepo:      docRepo,
		embeddingCfg: embeddingCfg,
	}
}

func (p *Ingestor) lock(documentID string) *sync.Mutex {
	mu, _ := p.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Process 实现 kafka.TaskProcessor，是消费者循环的入口。
func (p *Ingestor) Process(ctx context.Context, task tasks.IngestTask) error {
	return p.Ingest(ctx, task)
}

// Ingest 执行一次完整的文档摄取。
// 任何一步失败都会清理两个索引中该文档的残留并把文档标记为 failed，
// 保证不会出现半索引状态。
func (p *Ingestor) Ingest(ctx context.Context, task tasks.IngestTask) error {
	mu := p.lock(task.DocumentID)
	mu.Lock()
	defer mu.Unlock()

	log.Infof("[Ingestor] 开始处理文档, DocumentID: %s, FileName: %s, OwnerID: %d", task.DocumentID, task.FileName, task.OwnerID)

	if err := p.run(ctx, task); err != nil {
		log.Errorf("[Ingestor] 文档摄取失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		p.rollback(task.DocumentID, err)
		return err
	}
	return nil
}

func (p *Ingestor) run(ctx context.Context, task tasks.IngestTask) error {
	if err := p.docRepo.UpdateStatus(ctx, task.DocumentID, model.StatusChunking, ""); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	// 1. 从对象存储下载原始文件
	log.Infof("[Ingestor] 步骤1: 下载原始文件, ObjectKey: %s", task.ObjectKey)
	data, err := p.blobs.Get(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("下载原始文件失败: %w", err)
	}
	log.Infof("[Ingestor] 步骤1: 文件下载成功, 大小: %d 字节", len(data))

	// 2. 提取纯文本
	log.Info("[Ingestor] 步骤2: 提取文本内容")
	text, err := p.extractor.Extract(ctx, data, task.ContentType)
	if err != nil {
		return fmt.Errorf("提取文本失败: %w", err)
	}
	log.Infof("[Ingestor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 3. 文本分块
	log.Infof("[Ingestor] 步骤3: 文本分块, chunkSize: %d, chunkOverlap: %d", p.splitter.Size(), p.splitter.Overlap())
	pieces, err := p.splitter.Split(text)
	if err != nil {
		return fmt.Errorf("文本分块失败: %w", err)
	}
	log.Infof("[Ingestor] 步骤3: 分块完成, 共 %d 个分块", len(pieces))

	// 重新摄取前先清理旧索引数据，保证幂等
	if err := p.purgeIndexes(ctx, task.DocumentID); err != nil {
		return fmt.Errorf("清理旧索引数据失败: %w", err)
	}

	if err := p.docRepo.UpdateStatus(ctx, task.DocumentID, model.StatusEmbedding, ""); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	// 4. 批量向量化
	log.Infof("[Ingestor] 步骤4: 批量向量化, 批大小: %d", p.embeddingCfg.BatchSize)
	vectors, err := p.embedAll(ctx, pieces)
	if err != nil {
		return fmt.Errorf("向量化失败: %w", err)
	}

	// 5. 写入双索引
	log.Info("[Ingestor] 步骤5: 写入向量索引和关键词索引")
	for i, piece := range pieces {
		entry := index.Entry{
			ChunkID:    fmt.Sprintf("%s_%d", task.DocumentID, i),
			DocumentID: task.DocumentID,
			Text:       piece,
			Embedding:  vectors[i],
			Metadata: map[string]interface{}{
				"sequence_index": i,
				"file_name":      task.FileName,
			},
		}
		if err := p.vec.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("写入向量索引失败 (chunk %d): %w", i, err)
		}
		if err := p.kw.Index(ctx, entry); err != nil {
			return fmt.Errorf("写入关键词索引失败 (chunk %d): %w", i, err)
		}
	}

	if err := p.docRepo.SetChunkCount(ctx, task.DocumentID, len(pieces)); err != nil {
		return fmt.Errorf("更新分块数失败: %w", err)
	}
	if err := p.docRepo.UpdateStatus(ctx, task.DocumentID, model.StatusIndexed, ""); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[Ingestor] 文档摄取完成, DocumentID: %s, 分块数: %d", task.DocumentID, len(pieces))
	return nil
}

// embedAll 按配置的批大小分批向量化，可重试错误最多重试 3 次。
func (p *Ingestor) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	batchSize := p.embeddingCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += batchSize {
		end := start + batchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batch := pieces[start:end]

		var batchVectors [][]float32
		var err error
		for attempt := 1; attempt <= 3; attempt++ {
			batchVectors, err = p.embedder.EmbedBatch(ctx, batch)
			if err == nil {
				break
			}
			if !apperr.Retryable(err) || attempt == 3 {
				return nil, err
			}
			log.Warnf("[Ingestor] 向量化批次失败, 第 %d 次重试: %v", attempt, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

// purgeIndexes 删除两个索引中该文档的全部分块。
func (p *Ingestor) purgeIndexes(ctx context.Context, documentID string) error {
	if err := p.vec.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("清理向量索引失败: %w", err)
	}
	if err := p.kw.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("清理关键词索引失败: %w", err)
	}
	return nil
}

// rollback 在摄取失败后清理索引残留并标记文档为 failed。
// 使用独立的 context，避免因请求取消而跳过清理。
func (p *Ingestor) rollback(documentID string, cause error) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.purgeIndexes(cleanupCtx, documentID); err != nil {
		log.Errorf("[Ingestor] 回滚索引数据失败, DocumentID: %s, Error: %v", documentID, err)
	}
	if err := p.docRepo.UpdateStatus(cleanupCtx, documentID, model.StatusFailed, cause.Error()); err != nil {
		log.Errorf("[Ingestor] 标记文档失败状态出错, DocumentID: %s, Error: %v", documentID, err)
	}
}

// Purge 删除文档在两个索引中的全部数据，供文档删除流程调用。
// 与摄取共用同一把文档锁，避免删除与重建交错。
func (p *Ingestor) Purge(ctx context.Context, documentID string) error {
	mu := p.lock(documentID)
	mu.Lock()
	defer mu.Unlock()
	return p.purgeIndexes(ctx, documentID)
}
