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

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/handler"
	"dream-weaver-go/internal/pipeline"
	"dream-weaver-go/internal/repository"
	"dream-weaver-go/internal/service"
	"dream-weaver-go/internal/speech"
	"dream-weaver-go/pkg/database"
	"dream-weaver-go/pkg/es"
	"dream-weaver-go/pkg/imagegen"
	"dream-weaver-go/pkg/kafka"
	"dream-weaver-go/pkg/llm"
	"dream-weaver-go/pkg/log"
	"dream-weaver-go/pkg/storage"
	"dream-weaver-go/pkg/token"

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

	// 3. 初始化日志存储
	journalRepo := initJournalRepository(cfg)

	// 4. 初始化图片存储
	var imageStore storage.ImageStore = storage.InlineImageStore{}
	var imageLinker handler.ImageLinker
	if cfg.MinIO.Enabled() {
		storage.InitMinIO(cfg.MinIO)
		minioStore := storage.NewMinioImageStore(storage.MinioClient, cfg.MinIO.BucketName)
		imageStore, imageLinker = minioStore, minioStore
	} else {
		log.Info("未配置 MinIO，梦境图片将以 data URI 内联保存")
	}

	// 5. 初始化检索与索引管道
	var indexer service.DreamIndexer
	var processor *pipeline.Processor
	if cfg.Elasticsearch.Enabled() {
		if err := es.InitES(cfg.Elasticsearch); err != nil {
			log.Errorf("es 初始化失败 %s", err)
			return
		}
		processor = pipeline.NewProcessor(es.ESClient, cfg.Elasticsearch.IndexName)
		indexer = processor
	} else {
		log.Info("未配置 Elasticsearch，搜索将使用内存匹配")
	}

	var publisher *kafka.Publisher
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.Kafka.Enabled() && processor != nil {
		publisher = kafka.NewPublisher(cfg.Kafka)
		indexer = publisher
		// 启动后台 Kafka 消费者
		go kafka.NewConsumer(cfg.Kafka, processor, database.RDB).Run(consumerCtx)
	} else if cfg.Kafka.Enabled() {
		log.Warnf("已配置 Kafka 但未配置 Elasticsearch，忽略 Kafka")
	}

	// 6. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	imageClient := imagegen.NewClient(cfg.Image, cfg.LLM)
	prompts := service.NewPrompts(cfg.LLM.Prompt)
	analysisGateway := service.NewAnalysisGateway(llmClient, imageClient, imageStore, prompts, cfg.LLM.Generation)
	chatGateway := service.NewChatGateway(llmClient, prompts, cfg.LLM.Generation, cfg.Chat)

	journal := service.NewJournal(context.Background(), service.NewJournalStore(journalRepo), indexer)
	log.Infof("梦境日志加载完成, 共 %d 条", journal.Len())
	searchService := service.NewSearchService(es.ESClient, cfg.Elasticsearch.IndexName, journal)

	secret := cfg.JWT.Secret
	if secret == "" {
		secret = token.GenerateRandomString(32)
		log.Warnf("未配置 jwt.secret，使用随机密钥，重启后已签发的会话将失效")
	}
	jwtManager := token.NewJWTManager(secret, cfg.JWT.ExpireHours)

	opts := service.OptionsFromConfig(cfg.Workflow, cfg.Chat)
	sessions := service.NewSessionManager(jwtManager, func(capture *speech.Capture) *service.WorkflowController {
		return service.NewWorkflowController(capture, analysisGateway, chatGateway, journal, opts)
	}, cfg.Session.IdleTTL)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sessions.RunSweeper(sweepCtx, cfg.Session.SweepInterval)

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		Sessions: sessions,
		Journal:  journal,
		Search:   searchService,
		Images:   imageLinker,
	})

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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止进行中的录音，关闭所有推送连接
	sessions.CloseAll()
	stopSweeper()
	stopConsumer()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// initJournalRepository 按配置选择日志槽位的存储后端。Redis 总是尝试连接，Kafka 消费者用它记录重试次数。
func initJournalRepository(cfg config.Config) repository.JournalRepository {
	redisErr := database.InitRedis(cfg.Database.Redis)

	switch cfg.Journal.Backend {
	case "mysql":
		if redisErr != nil {
			log.Warnf("Redis 不可用，Kafka 失败任务将不再重试: %v", redisErr)
		}
		if err := database.InitMySQL(cfg.Database.MySQL.DSN, &repository.JournalSlot{}); err != nil {
			log.Fatal("MySQL 初始化失败", err)
		}
		log.Info("梦境日志使用 MySQL 存储")
		return repository.NewGormJournalRepository(database.DB, cfg.Journal.SlotKey)
	case "redis", "":
		if redisErr != nil {
			log.Fatal("Redis 初始化失败", redisErr)
		}
		log.Info("梦境日志使用 Redis 存储")
		return repository.NewRedisJournalRepository(database.RDB, cfg.Journal.SlotKey)
	default:
		log.Fatalf("未知的日志存储后端: %s", cfg.Journal.Backend)
		return nil
	}
}
