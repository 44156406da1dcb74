// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	ListByOwner(ctx context.Context, ownerID uint, skip, limit int) ([]*model.Document, int64, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, failReason string) error
	SetChunkCount(ctx context.Context, id string, count int) error
	Delete(ctx context.Context, id string) error
}

type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个基于 MySQL 的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

func (r *gormDocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *gormDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "文档不存在").WithDetail("document_id", id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) ListByOwner(ctx context.Context, ownerID uint, skip, limit int) ([]*model.Document, int64, error) {
	var docs []*model.Document
	var total int64
	q := r.db.WithContext(ctx).Model(&model.Document{}).Where("owner_id = ?", ownerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Offset(skip).Limit(limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *gormDocumentRepository) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, failReason string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "fail_reason": failReason}).Error
}

func (r *gormDocumentRepository) SetChunkCount(ctx context.Context, id string, count int) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Update("chunk_count", count).Error
}

func (r *gormDocumentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}
