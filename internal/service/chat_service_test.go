package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"llm-retrieval-go/internal/apperr"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/index"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/store"
	"llm-retrieval-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubQueryService 返回固定的检索结果。
type stubQueryService struct {
	results []model.RetrievalResult
	err     error
}

func (s *stubQueryService) Query(_ context.Context, _ string, _ int, _ *float64, _ []index.MetadataFilter) (*QueryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &QueryResult{Results: s.results, Total: len(s.results)}, nil
}

func (s *stubQueryService) HybridSearch(_ context.Context, _ string, _ int, _, _ bool) (*QueryResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &QueryResult{Results: s.results, Total: len(s.results)}, nil
}

// stubLLM 返回预置答案或预置的流片段序列。
type stubLLM struct {
	answer       string
	usage        *llm.Usage
	chatErr      error
	streamDeltas []llm.StreamDelta
	lastMessages []llm.Message
	lastParams   *llm.GenerationParams
}

func (s *stubLLM) Chat(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, *llm.Usage, error) {
	s.lastMessages = messages
	s.lastParams = gen
	if s.chatErr != nil {
		return "", nil, s.chatErr
	}
	return s.answer, s.usage, nil
}

func (s *stubLLM) ChatStream(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (<-chan llm.StreamDelta, error) {
	s.lastMessages = messages
	s.lastParams = gen
	ch := make(chan llm.StreamDelta, len(s.streamDeltas))
	for _, d := range s.streamDeltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func newChatFixture(queries QueryService, llmClient llm.Client) (ChatService, store.SessionStore) {
	sessions := store.NewMemorySessionStore()
	svc := NewChatService(queries, llmClient, sessions,
		config.LLMPromptConfig{Rules: "只依据参考资料回答"},
		config.RAGConfig{TopK: 5},
	)
	return svc, sessions
}

func testUser() *model.User {
	return &model.User{ID: 1, Username: "tester", Role: "USER"}
}

func TestChatRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("两轮对话产生四条有序消息", func(t *testing.T) {
		llmStub := &stubLLM{answer: "第一答"}
		svc, sessions := newChatFixture(&stubQueryService{}, llmStub)

		first, err := svc.Respond(ctx, testUser(), ChatRequest{Message: "第一问", UseRAG: false})
		require.NoError(t, err)
		require.NotEmpty(t, first.SessionID)
		assert.Equal(t, "第一答", first.Answer)

		llmStub.answer = "第二答"
		second, err := svc.Respond(ctx, testUser(), ChatRequest{Message: "第二问", SessionID: first.SessionID, UseRAG: false})
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)

		history, err := sessions.History(ctx, first.SessionID, 1)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, []string{"user", "assistant", "user", "assistant"},
			[]string{history[0].Role, history[1].Role, history[2].Role, history[3].Role})
		assert.Equal(t, "第一问", history[0].Content)
		assert.Equal(t, "第一答", history[1].Content)
		assert.Equal(t, "第二问", history[2].Content)
		assert.Equal(t, "第二答", history[3].Content)
	})

	t.Run("第二轮携带完整历史", func(t *testing.T) {
		llmStub := &stubLLM{answer: "答"}
		svc, _ := newChatFixture(&stubQueryService{}, llmStub)

		first, err := svc.Respond(ctx, testUser(), ChatRequest{Message: "问一", UseRAG: false})
		require.NoError(t, err)
		_, err = svc.Respond(ctx, testUser(), ChatRequest{Message: "问二", SessionID: first.SessionID, UseRAG: false})
		require.NoError(t, err)

		// system + 问一 + 答 + 问二
		require.Len(t, llmStub.lastMessages, 4)
		assert.Equal(t, "system", llmStub.lastMessages[0].Role)
		assert.Equal(t, "问一", llmStub.lastMessages[1].Content)
		assert.Equal(t, "问二", llmStub.lastMessages[3].Content)
	})

	t.Run("RAG 开启时检索结果进入 system 消息与返回", func(t *testing.T) {
		queries := &stubQueryService{results: []model.RetrievalResult{
			{ChunkID: "c1", DocumentID: "d1", Text: "参考内容甲", Score: 0.9, Metadata: map[string]interface{}{"file_name": "a.txt"}},
		}}
		llmStub := &stubLLM{answer: "基于资料的回答"}
		svc, _ := newChatFixture(queries, llmStub)

		answer, err := svc.Respond(ctx, testUser(), ChatRequest{Message: "提问", UseRAG: true})
		require.NoError(t, err)
		require.Len(t, answer.Sources, 1)
		assert.Equal(t, "c1", answer.Sources[0].ChunkID)

		require.NotEmpty(t, llmStub.lastMessages)
		sys := llmStub.lastMessages[0]
		assert.Equal(t, "system", sys.Role)
		assert.Contains(t, sys.Content, "参考内容甲")
		assert.Contains(t, sys.Content, "a.txt")
	})

	t.Run("检索失败时本轮失败且无助手消息", func(t *testing.T) {
		queries := &stubQueryService{err: errors.New("index down")}
		svc, sessions := newChatFixture(queries, &stubLLM{answer: "不应出现"})

		sess, err := sessions.Create(ctx, 1)
		require.NoError(t, err)
		_, err = svc.Respond(ctx, testUser(), ChatRequest{Message: "提问", SessionID: sess.ID, UseRAG: true})
		require.Error(t, err)

		history, herr := sessions.History(ctx, sess.ID, 1)
		require.NoError(t, herr)
		require.Len(t, history, 1)
		assert.Equal(t, "user", history[0].Role)
	})

	t.Run("model 覆盖值传入生成参数", func(t *testing.T) {
		llmStub := &stubLLM{answer: "答"}
		svc, _ := newChatFixture(&stubQueryService{}, llmStub)

		_, err := svc.Respond(ctx, testUser(), ChatRequest{Message: "提问", UseRAG: false, Model: "gpt-4-turbo-preview"})
		require.NoError(t, err)
		require.NotNil(t, llmStub.lastParams)
		assert.Equal(t, "gpt-4-turbo-preview", llmStub.lastParams.Model)

		// 未指定任何覆盖值时不构造参数，客户端回落到配置默认值
		_, err = svc.Respond(ctx, testUser(), ChatRequest{Message: "提问", UseRAG: false})
		require.NoError(t, err)
		assert.Nil(t, llmStub.lastParams)
	})

	t.Run("生成失败时保留提问但无助手消息", func(t *testing.T) {
		llmStub := &stubLLM{chatErr: apperr.New(apperr.KindValidation, "bad request")}
		svc, sessions := newChatFixture(&stubQueryService{}, llmStub)

		sess, err := sessions.Create(ctx, 1)
		require.NoError(t, err)
		_, err = svc.Respond(ctx, testUser(), ChatRequest{Message: "提问", SessionID: sess.ID, UseRAG: false})
		require.Error(t, err)

		history, herr := sessions.History(ctx, sess.ID, 1)
		require.NoError(t, herr)
		require.Len(t, history, 1)
		assert.Equal(t, "user", history[0].Role)
	})
}

func TestChatValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newChatFixture(&stubQueryService{}, &stubLLM{answer: "答"})

	cases := []struct {
		name string
		req  ChatRequest
	}{
		{"空消息", ChatRequest{Message: ""}},
		{"超长消息", ChatRequest{Message: strings.Repeat("长", 4001)}},
		{"temperature 越界", ChatRequest{Message: "hi", Temperature: floatPtr(2.5)}},
		{"max_tokens 越界", ChatRequest{Message: "hi", MaxTokens: intPtr(0)}},
		{"top_k 越界", ChatRequest{Message: "hi", TopK: 21}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Respond(ctx, testUser(), tc.req)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestChatRespondStream(t *testing.T) {
	ctx := context.Background()

	t.Run("片段拼接与终止片段", func(t *testing.T) {
		llmStub := &stubLLM{streamDeltas: []llm.StreamDelta{
			{Content: "你"},
			{Content: "好"},
			{Done: true, Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
		}}
		svc, sessions := newChatFixture(&stubQueryService{}, llmStub)

		fragments, err := svc.RespondStream(ctx, testUser(), ChatRequest{Message: "提问", UseRAG: false})
		require.NoError(t, err)

		var contents []string
		var final ChatFragment
		for frag := range fragments {
			if frag.Done {
				final = frag
				continue
			}
			contents = append(contents, frag.Content)
		}
		assert.Equal(t, []string{"你", "好"}, contents)
		require.True(t, final.Done)
		require.NoError(t, final.Err)
		require.NotNil(t, final.Usage)
		assert.Equal(t, 12, final.Usage.TotalTokens)

		// 完整答案恰好入库一次
		history, herr := sessions.History(ctx, final.SessionID, 1)
		require.NoError(t, herr)
		require.Len(t, history, 2)
		assert.Equal(t, "assistant", history[1].Role)
		assert.Equal(t, "你好", history[1].Content)
	})

	t.Run("消费方取消后转发端退出且通道关闭", func(t *testing.T) {
		// 片段数远超通道缓冲，让发送端在消费停止后必然撞上缓冲已满
		deltas := make([]llm.StreamDelta, 0, 64)
		for i := 0; i < 64; i++ {
			deltas = append(deltas, llm.StreamDelta{Content: "片"})
		}
		llmStub := &stubLLM{streamDeltas: deltas}
		svc, sessions := newChatFixture(&stubQueryService{}, llmStub)

		sess, err := sessions.Create(ctx, 1)
		require.NoError(t, err)
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		fragments, err := svc.RespondStream(streamCtx, testUser(), ChatRequest{Message: "提问", SessionID: sess.ID, UseRAG: false})
		require.NoError(t, err)

		<-fragments
		cancel()

		// 取消后发送端必须关闭通道，而不是阻塞在发送上
		deadline := time.After(2 * time.Second)
	drain:
		for {
			select {
			case _, open := <-fragments:
				if !open {
					break drain
				}
			case <-deadline:
				t.Fatal("取消后片段通道未关闭，发送端仍在运行")
			}
		}

		history, herr := sessions.History(ctx, sess.ID, 1)
		require.NoError(t, herr)
		require.Len(t, history, 1)
		assert.Equal(t, "user", history[0].Role)
	})

	t.Run("流中断时不写入助手消息", func(t *testing.T) {
		llmStub := &stubLLM{streamDeltas: []llm.StreamDelta{
			{Content: "部分"},
			{Err: errors.New("connection reset")},
		}}
		svc, sessions := newChatFixture(&stubQueryService{}, llmStub)

		sess, err := sessions.Create(ctx, 1)
		require.NoError(t, err)
		fragments, err := svc.RespondStream(ctx, testUser(), ChatRequest{Message: "提问", SessionID: sess.ID, UseRAG: false})
		require.NoError(t, err)

		var final ChatFragment
		for frag := range fragments {
			if frag.Done {
				final = frag
			}
		}
		require.True(t, final.Done)
		require.Error(t, final.Err)

		history, herr := sessions.History(ctx, sess.ID, 1)
		require.NoError(t, herr)
		require.Len(t, history, 1)
		assert.Equal(t, "user", history[0].Role)
	})
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
