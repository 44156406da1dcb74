// Package model 包含了应用的数据模型定义。
package model

import "time"

// DocumentStatus 表示文档在摄取管道中的状态。
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusChunking  DocumentStatus = "chunking"
	StatusEmbedding DocumentStatus = "embedding"
	StatusIndexed   DocumentStatus = "indexed"
	StatusFailed    DocumentStatus = "failed"
)

// Document 定义了 documents 表的 ORM 模型。
// 文档归上传用户所有，删除时级联清理两个索引中的全部分块。
type Document struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"documentId"`
	OwnerID     uint           `gorm:"index;not null" json:"ownerId"`
	FileName    string         `gorm:"type:varchar(255);not null" json:"fileName"`
	SourceURI   string         `gorm:"type:varchar(512)" json:"sourceUri"`
	ContentType string         `gorm:"type:varchar(100)" json:"contentType"`
	Status      DocumentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	FailReason  string         `gorm:"type:varchar(512)" json:"failReason,omitempty"`
	ChunkCount  int            `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// Chunk 是摄取过程中产生的文档分块，摄取完成后不可变，
// 只随所属文档整体删除。
type Chunk struct {
	ID            string                 `json:"chunkId"`
	DocumentID    string                 `json:"documentId"`
	SequenceIndex int                    `json:"sequenceIndex"`
	Text          string                 `json:"text"`
	Embedding     []float32              `json:"-"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
