package handler

import (
	"encoding/json"
	"net/http"

	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/service"
	"llm-retrieval-go/pkg/log"
	"llm-retrieval-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理对话相关的 API 请求，包括批式、SSE 流式和 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// ChatRequestDTO 定义了对话 API 的请求体结构。
type ChatRequestDTO struct {
	Message     string   `json:"message" binding:"required"`
	SessionID   string   `json:"session_id,omitempty"`
	Model       string   `json:"model,omitempty"`
	UseRAG      *bool    `json:"use_rag,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

func (dto *ChatRequestDTO) toServiceRequest() service.ChatRequest {
	useRAG := true
	if dto.UseRAG != nil {
		useRAG = *dto.UseRAG
	}
	return service.ChatRequest{
		SessionID:   dto.SessionID,
		Message:     dto.Message,
		Model:       dto.Model,
		UseRAG:      useRAG,
		TopK:        dto.TopK,
		Temperature: dto.Temperature,
		TopP:        dto.TopP,
		MaxTokens:   dto.MaxTokens,
	}
}

// Chat 处理批式对话请求，等生成完成后一次性返回完整答案。
func (h *ChatHandler) Chat(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req ChatRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：message 不能为空"})
		return
	}

	answer, err := h.chatService.Respond(c.Request.Context(), user, req.toServiceRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, answer)
}

// ChatStream 处理 SSE 流式对话请求。
// 每个生成片段以 data: {"type":"chunk",...} 下发，
// 结束时下发 data: {"type":"done",...}，失败时下发 data: {"type":"error",...}。
func (h *ChatHandler) ChatStream(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req ChatRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：message 不能为空"})
		return
	}

	fragments, err := h.chatService.RespondStream(c.Request.Context(), user, req.toServiceRequest())
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	for frag := range fragments {
		var event map[string]interface{}
		switch {
		case frag.Err != nil:
			event = map[string]interface{}{
				"type":       "error",
				"session_id": frag.SessionID,
				"error":      "生成失败，请稍后重试",
			}
		case frag.Done:
			event = map[string]interface{}{
				"type":       "done",
				"session_id": frag.SessionID,
				"sources":    frag.Sources,
			}
			if frag.Usage != nil {
				event["usage"] = frag.Usage
			}
		default:
			event = map[string]interface{}{
				"type":    "chunk",
				"content": frag.Content,
			}
		}
		if err := writeSSE(c, event); err != nil {
			// 客户端断开，ctx 取消会终止上游生成
			log.Warnf("SSE 写入失败，客户端可能已断开: %v", err)
			return
		}
	}
}

func writeSSE(c *gin.Context, event map[string]interface{}) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := c.Writer.WriteString("data: " + string(b) + "\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// HandleWS 处理一个传入的 WebSocket 聊天连接。
// 连接建立后每条文本消息视为一轮提问，片段以 {"chunk":"..."} 下发，
// 结束时下发 completion 通知。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	var sessionID string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		sessionID = h.streamToWS(c, conn, user, sessionID, string(message))
	}
}

// streamToWS 执行一轮流式对话并把片段写到 WebSocket，返回会话 ID 供后续轮次复用。
func (h *ChatHandler) streamToWS(c *gin.Context, conn *websocket.Conn, user *model.User, sessionID, message string) string {
	req := service.ChatRequest{SessionID: sessionID, Message: message, UseRAG: true}
	fragments, err := h.chatService.RespondStream(c.Request.Context(), user, req)
	if err != nil {
		writeWSJSON(conn, map[string]string{"error": "AI服务暂时不可用，请稍后重试"})
		return sessionID
	}

	for frag := range fragments {
		sessionID = frag.SessionID
		switch {
		case frag.Err != nil:
			writeWSJSON(conn, map[string]string{"error": "AI服务暂时不可用，请稍后重试"})
		case frag.Done:
			writeWSJSON(conn, map[string]interface{}{
				"type":       "completion",
				"status":     "finished",
				"session_id": frag.SessionID,
			})
		default:
			writeWSJSON(conn, map[string]string{"chunk": frag.Content})
		}
	}
	return sessionID
}

func writeWSJSON(conn *websocket.Conn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("向 WebSocket 写入消息失败: %v", err)
	}
}
