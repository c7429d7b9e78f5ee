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

	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/internal/handler"
	"github.com/getcharzp/go-clickseg/internal/logger"
	"github.com/getcharzp/go-clickseg/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, cfgErr := config.New(*configPath)

	// 初始化日志
	if err := logger.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Logger
	if cfgErr != nil {
		log.Warn("failed to load config, using defaults",
			zap.String("path", *configPath), zap.Error(cfgErr))
	}

	log.Info("starting clickseg server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch),
		zap.String("family", cfg.Model.Family))

	// 加载模型
	models, err := service.LoadModels(cfg, log)
	if err != nil {
		log.Fatal("failed to load models", zap.Error(err))
	}
	defer models.Close()
	log.Info("models loaded",
		zap.Stringer("device", models.Device.Effective),
		zap.Bool("fallback", models.Device.Fallback),
		zap.String("reason", models.Device.Reason))

	// 初始化Redis
	var cache service.EmbeddingCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis, log)
		if err := redisService.Ping(context.Background()); err != nil {
			log.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisService.Close()
		} else {
			log.Info("redis connected successfully")
			cache = redisService
			defer redisService.Close()
		}
	}

	manager, err := service.NewSessionManager(models, cache, &cfg.Session, &cfg.Inference, log)
	if err != nil {
		log.Fatal("failed to create session manager", zap.Error(err))
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	manager.StartJanitor(ctx, cfg.Session.SweepInterval)

	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.NewSessionHandler(cfg, manager, log), handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}
