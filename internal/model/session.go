package model

import "time"

// ChatMessage 代表会话中的单条消息。
// 消息顺序以追加顺序为准，Timestamp 仅作展示用途。
type ChatMessage struct {
	Role      string    `json:"role"` // "user"、"assistant" 或 "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session 代表一个用户与助手之间的持久化会话。
// 会话归属用户，生命周期内只追加消息：每轮对话由编排器先追加一条
// 用户消息，生成成功后再追加一条助手消息。
type Session struct {
	ID        string        `json:"sessionId"`
	OwnerID   uint          `json:"ownerId"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
