package service

import (
	"context"
	"testing"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserService() UserService {
	jwtManager := token.NewJWTManager("test-secret", 2, 7)
	return NewUserService(repository.NewMemoryUserRepository(), jwtManager)
}

func TestUserRegister(t *testing.T) {
	ctx := context.Background()
	svc := newUserService()

	t.Run("注册成功", func(t *testing.T) {
		user, err := svc.Register(ctx, "alice", "secret123")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "USER", user.Role)
		assert.NotEqual(t, "secret123", user.Password, "密码必须以哈希形式存储")
	})

	t.Run("重复用户名被拒绝", func(t *testing.T) {
		_, err := svc.Register(ctx, "alice", "another456")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("密码过短被拒绝", func(t *testing.T) {
		_, err := svc.Register(ctx, "bob", "123")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestUserLogin(t *testing.T) {
	ctx := context.Background()
	svc := newUserService()
	_, err := svc.Register(ctx, "alice", "secret123")
	require.NoError(t, err)

	t.Run("登录成功返回两种 token", func(t *testing.T) {
		access, refresh, err := svc.Login(ctx, "alice", "secret123")
		require.NoError(t, err)
		assert.NotEmpty(t, access)
		assert.NotEmpty(t, refresh)
		assert.NotEqual(t, access, refresh)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice", "wrong")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})

	t.Run("用户不存在时返回同样的错误", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody", "secret123")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})
}

func TestUserRefreshToken(t *testing.T) {
	ctx := context.Background()
	svc := newUserService()
	_, err := svc.Register(ctx, "alice", "secret123")
	require.NoError(t, err)
	_, refresh, err := svc.Login(ctx, "alice", "secret123")
	require.NoError(t, err)

	t.Run("合法 refresh token 换发新令牌", func(t *testing.T) {
		newAccess, newRefresh, err := svc.RefreshToken(ctx, refresh)
		require.NoError(t, err)
		assert.NotEmpty(t, newAccess)
		assert.NotEmpty(t, newRefresh)
	})

	t.Run("伪造 token 被拒绝", func(t *testing.T) {
		_, _, err := svc.RefreshToken(ctx, "not-a-token")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	})
}
