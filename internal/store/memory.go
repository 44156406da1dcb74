package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"

	"github.com/google/uuid"
)

// memorySessionStore 是 SessionStore 的进程内实现。
type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemorySessionStore 创建一个进程内 SessionStore。
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: make(map[string]*model.Session)}
}

func (s *memorySessionStore) Create(_ context.Context, ownerID uint) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess := &model.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Messages:  []model.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	cp := cloneSession(sess)
	return cp, nil
}

// locked 在持有读锁的情况下查找会话并校验归属。
func (s *memorySessionStore) locked(sessionID string, ownerID uint) (*model.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "会话不存在").WithDetail("session_id", sessionID)
	}
	if sess.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindAuthorization, "无权访问该会话").WithDetail("session_id", sessionID)
	}
	return sess, nil
}

func (s *memorySessionStore) Get(_ context.Context, sessionID string, ownerID uint) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.locked(sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

func (s *memorySessionStore) History(ctx context.Context, sessionID string, ownerID uint) ([]model.ChatMessage, error) {
	sess, err := s.Get(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

func (s *memorySessionStore) Append(_ context.Context, sessionID string, ownerID uint, msg model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.locked(sessionID, ownerID)
	if err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *memorySessionStore) List(_ context.Context, ownerID uint, skip, limit int) ([]*model.Session, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []*model.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			owned = append(owned, cloneSession(sess))
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
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

func (s *memorySessionStore) Delete(_ context.Context, sessionID string, ownerID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.locked(sessionID, ownerID); err != nil {
		return err
	}
	delete(s.sessions, sessionID)
	return nil
}

func cloneSession(sess *model.Session) *model.Session {
	cp := *sess
	cp.Messages = make([]model.ChatMessage, len(sess.Messages))
	copy(cp.Messages, sess.Messages)
	return &cp
}
