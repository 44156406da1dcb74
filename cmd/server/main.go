// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-retrieval-go/internal/chunker"
	"llm-retrieval-go/internal/config"
	"llm-retrieval-go/internal/handler"
	"llm-retrieval-go/internal/index"
	esindex "llm-retrieval-go/internal/index/es"
	memindex "llm-retrieval-go/internal/index/memory"
	"llm-retrieval-go/internal/middleware"
	"llm-retrieval-go/internal/model"
	"llm-retrieval-go/internal/pipeline"
	"llm-retrieval-go/internal/repository"
	"llm-retrieval-go/internal/retriever"
	"llm-retrieval-go/internal/service"
	"llm-retrieval-go/internal/store"
	"llm-retrieval-go/pkg/database"
	"llm-retrieval-go/pkg/embedding"
	"llm-retrieval-go/pkg/kafka"
	"llm-retrieval-go/pkg/llm"
	"llm-retrieval-go/pkg/log"
	"llm-retrieval-go/pkg/storage"
	"llm-retrieval-go/pkg/tika"
	"llm-retrieval-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Infof("日志记录器初始化成功, 存储后端: %s", cfg.Storage.Backend)

	// 3. 按存储后端装配基础设施
	var (
		docRepo  repository.DocumentRepository
		userRepo repository.UserRepository
		sessions store.SessionStore
		blobs    storage.Store
		vec      index.VectorIndex
		kw       index.KeywordIndex
	)

	switch cfg.Storage.Backend {
	case "durable":
		db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatalf("MySQL 初始化失败: %v", err)
		}
		if err := db.AutoMigrate(&model.User{}, &model.Document{}); err != nil {
			log.Fatalf("数据库迁移失败: %v", err)
		}
		rdb, err := database.OpenRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatalf("Redis 初始化失败: %v", err)
		}
		esClient, err := esindex.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatalf("Elasticsearch 初始化失败: %v", err)
		}
		minioStore, err := storage.NewMinioStore(cfg.MinIO)
		if err != nil {
			log.Fatalf("MinIO 初始化失败: %v", err)
		}

		esStore := esindex.NewStore(esClient, cfg.Elasticsearch.IndexName)
		docRepo = repository.NewDocumentRepository(db)
		userRepo = repository.NewUserRepository(db)
		sessions = store.NewRedisSessionStore(rdb)
		blobs = minioStore
		vec = esStore
		kw = esStore.Keyword()
	case "memory":
		docRepo = repository.NewMemoryDocumentRepository()
		userRepo = repository.NewMemoryUserRepository()
		sessions = store.NewMemorySessionStore()
		blobs = storage.NewMemoryStore()
		vec = memindex.NewVectorIndex(cfg.Embedding.Dimensions)
		kw = memindex.NewKeywordIndex()
	default:
		log.Fatalf("未知的存储后端: %s", cfg.Storage.Backend)
	}

	// 4. 初始化外部客户端与核心组件
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatalf("分块器配置无效: %v", err)
	}
	ingestor := pipeline.NewIngestor(blobs, tikaClient, splitter, embeddingClient, vec, kw, docRepo, cfg.Embedding)
	hybridRetriever := retriever.New(embeddingClient, vec, kw, cfg.RAG)

	// 5. 任务派发：Kafka 或进程内
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var dispatcher service.TaskDispatcher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		dispatcher = service.NewKafkaDispatcher(producer)
		go kafka.StartConsumer(rootCtx, cfg.Kafka, ingestor)
	} else {
		dispatcher = service.NewDirectDispatcher(ingestor)
		log.Info("Kafka 未启用，摄取任务在进程内异步执行")
	}

	// 6. 初始化 Service (依赖注入)
	userService := service.NewUserService(userRepo, jwtManager)
	documentService := service.NewDocumentService(docRepo, blobs, ingestor, dispatcher, service.OwnerOrAdmin)
	queryService := service.NewQueryService(hybridRetriever)
	sessionService := service.NewSessionService(sessions)
	chatService := service.NewChatService(queryService, llmClient, sessions, cfg.LLM.Prompt, cfg.RAG)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	authRequired := middleware.AuthMiddleware(jwtManager, userService)
	authHandler := handler.NewAuthHandler(userService)
	documentHandler := handler.NewDocumentHandler(documentService)
	retrievalHandler := handler.NewRetrievalHandler(queryService)
	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
	sessionHandler := handler.NewSessionHandler(sessionService)

	r.GET("/health", handler.NewHealthHandler().Check)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refreshToken", authHandler.RefreshToken)
			auth.GET("/profile", authRequired, authHandler.Profile)
		}

		documents := apiV1.Group("/documents")
		documents.Use(authRequired)
		{
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		retrieval := apiV1.Group("/retrieval")
		retrieval.Use(authRequired)
		{
			retrieval.POST("/query", retrievalHandler.Query)
			retrieval.POST("/hybrid-search", retrievalHandler.HybridSearch)
		}

		chat := apiV1.Group("/chat")
		chat.Use(authRequired)
		{
			chat.POST("", chatHandler.Chat)
			chat.POST("/stream", chatHandler.ChatStream)
			chat.GET("/sessions", sessionHandler.List)
			chat.GET("/sessions/:id", sessionHandler.Get)
			chat.DELETE("/sessions/:id", sessionHandler.Delete)
		}
	}
	// WebSocket 走路径 token 认证
	r.GET("/chat/:token", chatHandler.HandleWS)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	cancelRoot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
