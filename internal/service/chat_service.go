package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/store"
	"llm-retrieval-go/pkg/llm"
	"llm-retrieval-go/pkg/log"
)

// ChatRequest 是一轮对话的输入。SessionID 为空时自动新建会话。
type ChatRequest struct {
	SessionID   string
	Message     string
	Model       string
	UseRAG      bool
	TopK        int
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// ChatAnswer 是批式对话的完整返回。
type ChatAnswer struct {
	SessionID string                  `json:"session_id"`
	Answer    string                  `json:"answer"`
	Sources   []model.RetrievalResult `json:"sources"`
	Usage     *llm.Usage              `json:"usage,omitempty"`
}

// ChatFragment 是流式对话下发的单个片段。
// Done 为 true 的片段是终止片段，其后通道关闭；
// 终止片段要么携带 Usage 和 Sources，要么携带 Err。
type ChatFragment struct {
	SessionID string
	Content   string
	Done      bool
	Sources   []model.RetrievalResult
	Usage     *llm.Usage
	Err       error
}

// ChatService 定义了对话操作的接口。
type ChatService interface {
	Respond(ctx context.Context, user *model.User, req ChatRequest) (*ChatAnswer, error)
	RespondStream(ctx context.Context, user *model.User, req ChatRequest) (<-chan ChatFragment, error)
}

type chatService struct {
	queries   QueryService
	llmClient llm.Client
	sessions  store.SessionStore
	promptCfg config.LLMPromptConfig
	ragCfg    config.RAGConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(queries QueryService, llmClient llm.Client, sessions store.SessionStore, promptCfg config.LLMPromptConfig, ragCfg config.RAGConfig) ChatService {
	return &chatService{
		queries:   queries,
		llmClient: llmClient,
		sessions:  sessions,
		promptCfg: promptCfg,
		ragCfg:    ragCfg,
	}
}

func (s *chatService) validate(req ChatRequest) error {
	msgLen := utf8.RuneCountInString(req.Message)
	if msgLen < 1 || msgLen > 4000 {
		return apperr.New(apperr.KindValidation, "消息长度必须在 1 到 4000 字符之间").WithDetail("length", msgLen)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return apperr.New(apperr.KindValidation, "temperature 必须在 0 到 2 之间")
	}
	if req.MaxTokens != nil && (*req.MaxTokens < 1 || *req.MaxTokens > 4000) {
		return apperr.New(apperr.KindValidation, "max_tokens 必须在 1 到 4000 之间")
	}
	if req.TopK != 0 && (req.TopK < 1 || req.TopK > 20) {
		return apperr.New(apperr.KindValidation, "top_k 必须在 1 到 20 之间")
	}
	return nil
}

// prepared 是两种对话模式共用的准备结果。
type prepared struct {
	sessionID string
	messages  []llm.Message
	sources   []model.RetrievalResult
}

// prepare 完成一轮对话生成前的全部工作：
// 会话解析、用户消息入库、可选的上下文检索、消息组装。
// 用户消息在生成前就持久化，生成失败也保留提问记录。
func (s *chatService) prepare(ctx context.Context, user *model.User, req ChatRequest) (*prepared, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// 1. 解析或新建会话
	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.sessions.Create(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("创建会话失败: %w", err)
		}
		sessionID = sess.ID
	}

	// 2. 先取历史再追加本轮用户消息，避免提问重复进入上下文
	history, err := s.sessions.History(ctx, sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	userMsg := model.ChatMessage{Role: "user", Content: req.Message, Timestamp: time.Now()}
	if err := s.sessions.Append(ctx, sessionID, user.ID, userMsg); err != nil {
		return nil, err
	}

	// 3. 可选的检索增强
	var sources []model.RetrievalResult
	if req.UseRAG {
		topK := req.TopK
		if topK == 0 {
			topK = s.ragCfg.TopK
		}
		result, err := s.queries.Query(ctx, req.Message, topK, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("检索上下文失败: %w", err)
		}
		sources = result.Results
	}

	// 4. 组装消息：system + 历史 + 本轮提问
	messages := s.composeMessages(req.UseRAG, sources, history, req.Message)
	return &prepared{sessionID: sessionID, messages: messages, sources: sources}, nil
}

// Respond 执行一轮批式对话。
// 可重试的生成错误最多重试 3 次，重试间指数退避。
func (s *chatService) Respond(ctx context.Context, user *model.User, req ChatRequest) (*ChatAnswer, error) {
	prep, err := s.prepare(ctx, user, req)
	if err != nil {
		return nil, err
	}

	gen := s.buildGenerationParams(req)
	var answer string
	var usage *llm.Usage
	for attempt := 1; ; attempt++ {
		answer, usage, err = s.llmClient.Chat(ctx, prep.messages, gen)
		if err == nil {
			break
		}
		if !apperr.Retryable(err) || attempt >= 3 {
			return nil, err
		}
		log.Warnf("[ChatService] 生成失败, 第 %d 次重试: %v", attempt, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	// 助手消息入库使用后台上下文，生成已完成就不该因请求取消而丢失
	assistantMsg := model.ChatMessage{Role: "assistant", Content: answer, Timestamp: time.Now()}
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sessions.Append(saveCtx, prep.sessionID, user.ID, assistantMsg); err != nil {
		log.Errorf("[ChatService] 保存助手消息失败, SessionID: %s, Error: %v", prep.sessionID, err)
	}

	sources := prep.sources
	if sources == nil {
		sources = []model.RetrievalResult{}
	}
	return &ChatAnswer{
		SessionID: prep.sessionID,
		Answer:    answer,
		Sources:   sources,
		Usage:     usage,
	}, nil
}

// RespondStream 执行一轮流式对话。
// 返回的通道由本方法负责关闭；调用方取消 ctx 即可中断生成，
// 中断或失败的轮次不会写入助手消息。
func (s *chatService) RespondStream(ctx context.Context, user *model.User, req ChatRequest) (<-chan ChatFragment, error) {
	prep, err := s.prepare(ctx, user, req)
	if err != nil {
		return nil, err
	}

	deltas, err := s.llmClient.ChatStream(ctx, prep.messages, s.buildGenerationParams(req))
	if err != nil {
		return nil, err
	}

	out := make(chan ChatFragment, 8)
	go func() {
		defer close(out)
		// 调用方停止消费后 ctx 会被取消，发送端随之退出，不遗留阻塞的 goroutine
		emit := func(frag ChatFragment) bool {
			select {
			case out <- frag:
				return true
			case <-ctx.Done():
				return false
			}
		}
		var answer strings.Builder
		for delta := range deltas {
			if delta.Err != nil {
				log.Errorf("[ChatService] 流式生成中断, SessionID: %s, Error: %v", prep.sessionID, delta.Err)
				emit(ChatFragment{SessionID: prep.sessionID, Done: true, Err: delta.Err})
				return
			}
			if delta.Done {
				// 完整答案入库后才发终止片段，保证收到 done 时历史已一致
				assistantMsg := model.ChatMessage{Role: "assistant", Content: answer.String(), Timestamp: time.Now()}
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := s.sessions.Append(saveCtx, prep.sessionID, user.ID, assistantMsg); err != nil {
					log.Errorf("[ChatService] 保存助手消息失败, SessionID: %s, Error: %v", prep.sessionID, err)
				}
				cancel()
				sources := prep.sources
				if sources == nil {
					sources = []model.RetrievalResult{}
				}
				emit(ChatFragment{SessionID: prep.sessionID, Done: true, Sources: sources, Usage: delta.Usage})
				return
			}
			answer.WriteString(delta.Content)
			if !emit(ChatFragment{SessionID: prep.sessionID, Content: delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// buildContextText 把检索命中拼接为带编号的上下文文本。
func (s *chatService) buildContextText(sources []model.RetrievalResult) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range sources {
		fileLabel := "unknown"
		if name, ok := r.Metadata["file_name"].(string); ok && name != "" {
			fileLabel = name
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, fileLabel, r.Text))
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.promptCfg.Rules != "" {
		sys.WriteString(s.promptCfg.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.promptCfg.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) composeMessages(useRAG bool, sources []model.RetrievalResult, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if useRAG {
		msgs = append(msgs, llm.Message{Role: "system", Content: s.buildSystemMessage(s.buildContextText(sources))})
	} else if s.promptCfg.Rules != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: s.promptCfg.Rules})
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userInput})
	return msgs
}

// buildGenerationParams 只携带本轮请求的覆盖值，
// 未覆盖的参数由 LLM 客户端回落到配置默认值。
func (s *chatService) buildGenerationParams(req ChatRequest) *llm.GenerationParams {
	if req.Model == "" && req.Temperature == nil && req.TopP == nil && req.MaxTokens == nil {
		return nil
	}
	return &llm.GenerationParams{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
}
