package repository

import (
	"context"
	"sort"
	"sync"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"
)

// memoryDocumentRepository 是 DocumentRepository 的进程内实现，
// 供 memory 部署模式和单元测试使用。
type memoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
}

// NewMemoryDocumentRepository 创建一个进程内 DocumentRepository。
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{docs: make(map[string]*model.Document)}
}

func (r *memoryDocumentRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memoryDocumentRepository) FindByID(_ context.Context, id string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "文档不存在").WithDetail("document_id", id)
	}
	cp := *doc
	return &cp, nil
}

func (r *memoryDocumentRepository) ListByOwner(_ context.Context, ownerID uint, skip, limit int) ([]*model.Document, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []*model.Document
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID {
			cp := *doc
			owned = append(owned, &cp)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	total := int64(len(owned))
	if skip >= len(owned) {
		return nil, total, nil
	}
	owned = owned[skip:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, total, nil
}

func (r *memoryDocumentRepository) UpdateStatus(_ context.Context, id string, status model.DocumentStatus, failReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "文档不存在").WithDetail("document_id", id)
	}
	doc.Status = status
	doc.FailReason = failReason
	return nil
}

func (r *memoryDocumentRepository) SetChunkCount(_ context.Context, id string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "文档不存在").WithDetail("document_id", id)
	}
	doc.ChunkCount = count
	return nil
}

func (r *memoryDocumentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}
