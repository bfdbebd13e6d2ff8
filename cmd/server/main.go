package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binancedash/internal/config"
	"binancedash/internal/handler"
	"binancedash/internal/infrastructure/blob"
	"binancedash/internal/infrastructure/cache"
	"binancedash/internal/infrastructure/database"
	"binancedash/internal/infrastructure/exchange"
	"binancedash/internal/infrastructure/identity"
	"binancedash/internal/infrastructure/lock"
	"binancedash/internal/infrastructure/mq"
	"binancedash/internal/job"
	"binancedash/internal/logger"
	"binancedash/internal/service"
	"binancedash/pkg/crypto"
	"binancedash/pkg/idgen"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func main() {
	configPath := flag.String("config", envOr("BINANCEDASH_CONFIG", "config/config.yaml"), "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.WithError(err).Fatal("服务启动失败")
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Log.Format, cfg.Log.Level); err != nil {
		return err
	}
	log := logger.Component("main")

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	sealer, err := crypto.NewSealer(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("初始化凭证加密失败: %w", err)
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	avatars, err := blob.NewStore(afero.NewOsFs(), &cfg.Storage)
	if err != nil {
		return err
	}

	locker := lock.NewUserLocker(
		redisClient,
		cfg.Business.LockTTL,
		cfg.Business.LockRetryInterval,
		cfg.Business.LockMaxRetries,
	)

	services, err := service.NewServices(service.Deps{
		DB:     db,
		Locker: locker,
		Blobs:  avatars,
		Market: exchange.NewClient(&cfg.Binance),
		Sealer: sealer,
		Config: cfg,
	})
	if err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	reconcileJob := job.NewPreferenceReconcileJob(db, locker, cfg)
	if err := reconcileJob.Start(ctx); err != nil {
		return err
	}
	defer reconcileJob.Stop()

	provider := identity.NewGoTrueProvider(&cfg.Identity, redisClient)
	router := handler.SetupRouter(handler.NewHandler(services, cfg), provider, avatars.FileSystem(), cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	}

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()
	outboxSender.Stop()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("服务关闭异常")
	}

	log.Info("服务已关闭")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
