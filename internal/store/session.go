// Package store 提供会话历史的存储实现。
// 所有操作都会校验会话归属，归属不匹配按越权处理而不是未找到。
package store

import (
	"context"

	"llm-retrieval-go/internal/model"
)

// SessionStore 定义了聊天会话的存储操作。
// Append 对同一会话内部串行化，保证消息按追加顺序保存。
type SessionStore interface {
	Create(ctx context.Context, ownerID uint) (*model.Session, error)
	Get(ctx context.Context, sessionID string, ownerID uint) (*model.Session, error)
	History(ctx context.Context, sessionID string, ownerID uint) ([]model.ChatMessage, error)
	Append(ctx context.Context, sessionID string, ownerID uint, msg model.ChatMessage) error
	List(ctx context.Context, ownerID uint, skip, limit int) ([]*model.Session, int64, error)
	Delete(ctx context.Context, sessionID string, ownerID uint) error
}
