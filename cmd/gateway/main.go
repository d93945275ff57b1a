package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"storage-gateway/internal/config"
	"storage-gateway/internal/handler"
	"storage-gateway/internal/logger"
	"storage-gateway/internal/metrics"
	"storage-gateway/internal/middleware"
	"storage-gateway/internal/service"
	"storage-gateway/internal/storage"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Obter configurações do servidor
	serverConfig := configLoader.GetConfig()

	// Inicializar logger
	appLogger := logger.NewLogger(serverConfig.LogLevel, serverConfig.LogFormat)
	appLogger.Info("Starting Storage Gateway API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": serverConfig.LogLevel,
		"port":      serverConfig.ServerPort,
	})

	// Inicializar storage conforme STORAGE_TYPE (redis | memory)
	storageConfig := storage.BuildStorageConfigFromEnv(
		serverConfig.StorageType,
		serverConfig.RedisHost,
		serverConfig.RedisPort,
		serverConfig.RedisPassword,
		serverConfig.RedisDB,
	)

	store, err := storage.NewStorageFactory().CreateStorage(storageConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize storage", err, map[string]interface{}{
			"storage_type": serverConfig.StorageType,
		})
		os.Exit(1)
	}

	appLogger.Info("Storage initialized", map[string]interface{}{
		"storage_type": serverConfig.StorageType,
	})

	// Contexto de manutenção para os janitors de background
	maintCtx, maintCancel := context.WithCancel(context.Background())

	// Inicializar service com o rastreador de cooldown
	tracker := service.NewCooldownTracker()
	tracker.StartJanitor(maintCtx, time.Minute)

	admissionService := service.NewAdmissionService(store, cfg, appLogger, tracker)

	// Métricas Prometheus do gateway
	registry := prometheus.NewRegistry()
	gatewayMetrics := metrics.New(registry)

	// Limiter local usado quando o storage está indisponível em modo open
	fallback := middleware.NewFallbackLimiter(cfg.DefaultIPLimit, cfg.Window)
	fallback.StartJanitor(maintCtx, time.Minute)

	admission := middleware.NewAdmissionMiddleware(admissionService, appLogger, middleware.Options{
		Metrics:      gatewayMetrics,
		Fallback:     fallback,
		FallbackMode: serverConfig.FallbackMode,
	})

	// Inicializar handlers
	handlers := handler.NewHandlers(admissionService, appLogger, admission, registry)

	// Configurar Gin
	if serverConfig.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Criar router
	router := gin.New()

	// Middlewares globais
	router.Use(gin.Recovery())

	// Middleware de logging customizado
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	// Configurar rotas
	handlers.SetupRoutes(router)

	// Configurar servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", serverConfig.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Iniciar servidor em goroutine
	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": serverConfig.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	// Aguardar sinais de interrupção
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("🚀 Storage Gateway API is running!", map[string]interface{}{
		"port": serverConfig.ServerPort,
		"endpoints": []string{
			"GET  /health",
			"GET  /metrics",
			"GET  /v1/objects   (admission controlled)",
			"GET  /admin/status",
			"POST /admin/reset",
			"POST /admin/ban",
		},
		"admission": map[string]interface{}{
			"default_ip_limit":    cfg.DefaultIPLimit,
			"default_key_limit":   cfg.DefaultKeyLimit,
			"window":              cfg.Window.String(),
			"violation_threshold": cfg.ViolationThreshold,
			"ban_duration":        cfg.BanDuration.String(),
			"fallback_mode":       serverConfig.FallbackMode,
		},
	})

	// Bloquear até receber sinal
	<-quit
	appLogger.Info("Shutting down server...", nil)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
		os.Exit(1)
	}

	// Encerrar os janitors e fechar o storage
	maintCancel()
	tracker.Stop()
	fallback.Stop()

	if err := store.Close(); err != nil {
		appLogger.Error("Failed to close storage", err, nil)
	}

	appLogger.Info("Server stopped gracefully", nil)
}
