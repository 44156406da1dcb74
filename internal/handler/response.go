// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/middleware"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// respondOK 按统一格式返回成功响应。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

// respondError 把业务错误映射为 HTTP 状态码并返回统一格式。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindUnsupportedFormat:
		status = http.StatusUnsupportedMediaType
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindEmbedding, apperr.KindGeneration:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error("请求处理失败", err)
	}
	body := gin.H{"code": status, "error": err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		body["details"] = ae.Details
	}
	c.JSON(status, body)
}

// currentUser 从 Gin 上下文中取出认证中间件写入的用户对象。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(middleware.UserContextKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证的请求"})
		return nil, false
	}
	user, ok := v.(*model.User)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证的请求"})
		return nil, false
	}
	return user, true
}
