package handler

import (
	"strconv"

	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责处理会话管理相关的 API 请求。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// List 分页列出当前用户的会话。
func (h *SessionHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	sessions, total, err := h.sessionService.List(c.Request.Context(), user, skip, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	// 列表只带摘要，消息明细走单查接口
	summaries := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, gin.H{
			"session_id":    s.ID,
			"message_count": len(s.Messages),
			"created_at":    s.CreatedAt,
			"updated_at":    s.UpdatedAt,
		})
	}
	respondOK(c, gin.H{
		"sessions": summaries,
		"total":    total,
		"skip":     skip,
		"limit":    limit,
	})
}

// Get 返回单个会话的完整消息历史。
func (h *SessionHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess, err := h.sessionService.Get(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, sess)
}

// Delete 删除一个会话及其全部历史。
func (h *SessionHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.sessionService.Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}
