package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 会话在 Redis 中保留 7 天，每次写入都会刷新 TTL。
const sessionTTL = 7 * 24 * time.Hour

// redisSessionStore 是 SessionStore 的 Redis 实现。
// 会话本体存在 session:{id}，归属索引存在 user:{id}:sessions (Set)。
// Append 通过进程内按会话加锁串行化读改写，同一实例内不会交错。
type redisSessionStore struct {
	client *redis.Client
	locks  sync.Map // sessionID -> *sync.Mutex
}

// NewRedisSessionStore 创建一个基于 Redis 的 SessionStore。
func NewRedisSessionStore(client *redis.Client) SessionStore {
	return &redisSessionStore{client: client}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func ownerSessionsKey(ownerID uint) string {
	return fmt.Sprintf("user:%d:sessions", ownerID)
}

func (s *redisSessionStore) lock(sessionID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *redisSessionStore) Create(ctx context.Context, ownerID uint) (*model.Session, error) {
	now := time.Now()
	sess := &model.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Messages:  []model.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, ownerSessionsKey(ownerID), sess.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to register session for owner: %w", err)
	}
	return sess, nil
}

func (s *redisSessionStore) save(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// load 读取会话并校验归属。
func (s *redisSessionStore) load(ctx context.Context, sessionID string, ownerID uint) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, apperr.New(apperr.KindNotFound, "会话不存在").WithDetail("session_id", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindAuthorization, "无权访问该会话").WithDetail("session_id", sessionID)
	}
	return &sess, nil
}

func (s *redisSessionStore) Get(ctx context.Context, sessionID string, ownerID uint) (*model.Session, error) {
	return s.load(ctx, sessionID, ownerID)
}

func (s *redisSessionStore) History(ctx context.Context, sessionID string, ownerID uint) ([]model.ChatMessage, error) {
	sess, err := s.load(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

func (s *redisSessionStore) Append(ctx context.Context, sessionID string, ownerID uint, msg model.ChatMessage) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.load(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now()
	return s.save(ctx, sess)
}

func (s *redisSessionStore) List(ctx context.Context, ownerID uint, skip, limit int) ([]*model.Session, int64, error) {
	ids, err := s.client.SMembers(ctx, ownerSessionsKey(ownerID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	var sessions []*model.Session
	for _, id := range ids {
		sess, err := s.load(ctx, id, ownerID)
		if apperr.Is(err, apperr.KindNotFound) {
			// TTL 过期后索引残留，顺手清理
			s.client.SRem(ctx, ownerSessionsKey(ownerID), id)
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	total := int64(len(sessions))
	if skip >= len(sessions) {
		return nil, total, nil
	}
	sessions = sessions[skip:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions, total, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, sessionID string, ownerID uint) error {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.load(ctx, sessionID, ownerID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.client.SRem(ctx, ownerSessionsKey(ownerID), sessionID).Err(); err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	s.locks.Delete(sessionID)
	return nil
}
