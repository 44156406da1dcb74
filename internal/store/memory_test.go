package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	sess, err := s.Create(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, uint(1), sess.OwnerID)
	assert.Empty(t, sess.Messages)

	t.Run("消息按追加顺序保存", func(t *testing.T) {
		msgs := []model.ChatMessage{
			{Role: "user", Content: "第一问", Timestamp: time.Now()},
			{Role: "assistant", Content: "第一答", Timestamp: time.Now()},
			{Role: "user", Content: "第二问", Timestamp: time.Now()},
			{Role: "assistant", Content: "第二答", Timestamp: time.Now()},
		}
		for _, m := range msgs {
			require.NoError(t, s.Append(ctx, sess.ID, 1, m))
		}

		history, err := s.History(ctx, sess.ID, 1)
		require.NoError(t, err)
		require.Len(t, history, 4)
		for i, m := range msgs {
			assert.Equal(t, m.Role, history[i].Role)
			assert.Equal(t, m.Content, history[i].Content)
		}
	})

	t.Run("删除后不可再访问", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, sess.ID, 1))
		_, err := s.Get(ctx, sess.ID, 1)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestMemorySessionStoreOwnership(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	sess, err := s.Create(ctx, 1)
	require.NoError(t, err)

	t.Run("他人访问按越权处理", func(t *testing.T) {
		_, err := s.Get(ctx, sess.ID, 2)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("他人追加按越权处理", func(t *testing.T) {
		err := s.Append(ctx, sess.ID, 2, model.ChatMessage{Role: "user", Content: "hi"})
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("他人删除按越权处理", func(t *testing.T) {
		err := s.Delete(ctx, sess.ID, 2)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("不存在的会话返回未找到", func(t *testing.T) {
		_, err := s.Get(ctx, "missing", 1)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestMemorySessionStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, 1)
		require.NoError(t, err)
	}
	other, err := s.Create(ctx, 2)
	require.NoError(t, err)

	sessions, total, err := s.List(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, sessions, 3)
	for _, sess := range sessions {
		assert.NotEqual(t, other.ID, sess.ID)
		assert.Equal(t, uint(1), sess.OwnerID)
	}

	t.Run("分页", func(t *testing.T) {
		page, total, err := s.List(ctx, 1, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, page, 1)
	})

	t.Run("越过末尾返回空", func(t *testing.T) {
		page, total, err := s.List(ctx, 1, 10, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Empty(t, page)
	})
}

func TestMemorySessionStoreConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	sess, err := s.Create(ctx, 1)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, sess.ID, 1, model.ChatMessage{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
		}(i)
	}
	wg.Wait()

	history, err := s.History(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Len(t, history, n)
}
