package service

import (
	"context"

	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/store"
)

// SessionService 接口定义了会话管理相关的业务操作。
// 归属校验由底层 SessionStore 完成。
type SessionService interface {
	List(ctx context.Context, user *model.User, skip, limit int) ([]*model.Session, int64, error)
	Get(ctx context.Context, user *model.User, sessionID string) (*model.Session, error)
	Delete(ctx context.Context, user *model.User, sessionID string) error
}

type sessionService struct {
	sessions store.SessionStore
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessions store.SessionStore) SessionService {
	return &sessionService{sessions: sessions}
}

func (s *sessionService) List(ctx context.Context, user *model.User, skip, limit int) ([]*model.Session, int64, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.sessions.List(ctx, user.ID, skip, limit)
}

func (s *sessionService) Get(ctx context.Context, user *model.User, sessionID string) (*model.Session, error) {
	return s.sessions.Get(ctx, sessionID, user.ID)
}

func (s *sessionService) Delete(ctx context.Context, user *model.User, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID, user.ID)
}
