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

	"doclens-go/internal/config"
	"doclens-go/internal/handler"
	"doclens-go/internal/middleware"
	"doclens-go/internal/model"
	"doclens-go/internal/pipeline"
	"doclens-go/internal/repository"
	"doclens-go/internal/service"
	"doclens-go/pkg/database"
	"doclens-go/pkg/embedding"
	"doclens-go/pkg/es"
	"doclens-go/pkg/kafka"
	"doclens-go/pkg/llm"
	"doclens-go/pkg/log"
	"doclens-go/pkg/parser"
	"doclens-go/pkg/storage"
	"doclens-go/pkg/token"
	"doclens-go/pkg/vision"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储、向量索引与消息队列
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.DocumentPage{},
		&model.DocumentChunk{},
		&model.SearchHistory{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	store, err := storage.NewStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	documentRepository := repository.NewDocumentRepository(database.DB)
	historyRepository := repository.NewSearchHistoryRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化外部服务客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	parserClient := parser.NewClient(cfg.Parser)
	visionClient := vision.NewClient(cfg.Vision)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 6. 初始化 Service (依赖注入)
	userService := service.NewUserService(userRepository, jwtManager)
	documentService := service.NewDocumentService(documentRepository, store, esClient, kafka.ProduceIngestTask, cfg.Ingest)
	retrievalService := service.NewRetrievalService(embeddingClient, esClient, documentRepository, cfg.Search.MinScore)
	answerService := service.NewAnswerService(llmClient, database.RDB, cfg.Search.AnswerCacheTTLSec)
	searchService := service.NewSearchService(retrievalService, answerService, historyRepository, store, cfg.Search, cfg.Ingest.PageImageURLExpireMin)
	chatService := service.NewChatService(retrievalService, llmClient, conversationRepo, cfg.Search.DefaultTopK*2)

	// 7. 初始化摄取流水线并启动后台 Kafka 消费者
	ingestor := pipeline.NewIngestor(
		documentRepository,
		store,
		parserClient,
		visionClient,
		embeddingClient,
		esClient,
		cfg.Embedding.Model,
		cfg.Ingest,
	)
	go kafka.StartConsumer(cfg.Kafka, ingestor)

	// 7.1 启动过期处理中文档的回收扫描
	reconciler := pipeline.NewReconciler(documentRepository, kafka.ProduceIngestTask, cfg.Ingest)
	reconcilerStop := make(chan struct{})
	go reconciler.Start(reconcilerStop)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Document 路由组，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			docHandler := handler.NewDocumentHandler(documentService)
			documents.POST("/upload", docHandler.Upload)
			documents.GET("", docHandler.List)
			documents.GET("/:id", docHandler.Get)
			documents.GET("/:id/pages/:page/image", docHandler.PageImage)
			documents.DELETE("/:id", docHandler.Delete)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			searchHandler := handler.NewSearchHandler(searchService)
			search.POST("", searchHandler.Search)
			search.GET("/history", searchHandler.History)
			search.POST("/history/:id/feedback", searchHandler.Feedback)
		}

		// Chat 路由 (WebSocket)
		chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}
		r.GET("/chat/:token", chatHandler.Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	close(reconcilerStop)

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者是一个阻塞循环，随进程退出结束。
	log.Info("服务已优雅关闭")
}
