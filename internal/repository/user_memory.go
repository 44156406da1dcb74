package repository

import (
	"context"
	"sync"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"
)

// memoryUserRepository 是 UserRepository 的进程内实现。
type memoryUserRepository struct {
	mu     sync.RWMutex
	nextID uint
	byID   map[uint]*model.User
	byName map[string]uint
}

// NewMemoryUserRepository 创建一个进程内 UserRepository。
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		nextID: 1,
		byID:   make(map[uint]*model.User),
		byName: make(map[string]uint),
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[user.Username]; exists {
		return apperr.New(apperr.KindValidation, "用户名已存在").WithDetail("username", user.Username)
	}
	if user.ID == 0 {
		user.ID = r.nextID
		r.nextID++
	}
	cp := *user
	r.byID[user.ID] = &cp
	r.byName[user.Username] = user.ID
	return nil
}

func (r *memoryUserRepository) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[username]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "用户不存在").WithDetail("username", username)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memoryUserRepository) FindByID(_ context.Context, userID uint) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[userID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "用户不存在").WithDetail("user_id", userID)
	}
	cp := *user
	return &cp, nil
}

func (r *memoryUserRepository) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[user.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "用户不存在").WithDetail("user_id", user.ID)
	}
	if old.Username != user.Username {
		delete(r.byName, old.Username)
		r.byName[user.Username] = user.ID
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}
