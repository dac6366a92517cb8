package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "collaborative-editor/internal/handler/http"
	wsHandler "collaborative-editor/internal/handler/websocket"
	"collaborative-editor/internal/hub"
	gormpersistence "collaborative-editor/internal/infra/persistence/gorm"
	"collaborative-editor/internal/infra/setup"
	redisstate "collaborative-editor/internal/infra/state/redis"
	"collaborative-editor/internal/middleware"
	"collaborative-editor/internal/service"
	"collaborative-editor/internal/worker"
)

// ErrAppStopped Stop 之后不能再次 Start
var ErrAppStopped = errors.New("application already stopped")

// initDB 测试中可替换
var initDB = setup.InitDB

// Handle 描述一个正在监听的服务实例
type Handle struct {
	Addr string
	Port int
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	Hub         *hub.Hub
	HttpServer  *http.Server

	router       *gin.Engine
	autosave     *service.AutosaveService
	autosaveLoop *service.AutosaveLoop
	workerServer *worker.WorkerServer
	scheduler    *worker.AutosaveScheduler

	mu      sync.Mutex
	handle  *Handle
	stopped bool
}

// NewApp 创建并初始化应用的所有组件。cfg 为 nil 时从环境变量加载。
// Redis 不可达、数据库无法打开或迁移失败时返回错误。
func NewApp(cfg *Config) (*App, error) {
	// 1. 加载配置
	if cfg == nil {
		loaded, err := LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := initDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	log.WithField("driver", cfg.DB.Driver).Info("Database initialized")

	if err := setup.MigrateDB(db); err != nil {
		closeDB(log, db)
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		closeDB(log, db)
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	// 4. 初始化 Repositories
	roomRepo := gormpersistence.NewGormRoomRepository(db, cfg.HistoryCap)
	codeCache := redisstate.NewRedisCodeCache(redisClient, cfg.KeyPrefix, cfg.CacheTTL, cfg.CacheCompression)

	// 5. 初始化 Hub 与 Services
	hubInstance := hub.NewHub()
	flags := service.NewRoomFlagsStore(roomRepo)
	autosave := service.NewAutosaveService(codeCache, roomRepo, flags)
	codeSync := service.NewCodeSyncService(codeCache, roomRepo, flags, hubInstance)
	lifecycle := service.NewLifecycleService(codeCache, roomRepo, flags, autosave, hubInstance, cfg.HistoryCap)
	members := service.NewMembershipRegistry()
	locker := service.NewRoomLocker()
	log.Info("Services initialized")

	// 6. 初始化 Handlers
	gateway := wsHandler.NewGateway(hubInstance, locker, members, codeSync, lifecycle)
	wsh := wsHandler.NewWebSocketHandler(hubInstance, gateway, cfg.CORSAllowedOrigin)
	roomHandler := httpHandler.NewRoomHandler(lifecycle, members)

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		Hub:         hubInstance,
		autosave:    autosave,
	}

	// 7. 自动保存驱动
	switch cfg.AutosaveDriver {
	case AutosaveDriverAsynq:
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		app.workerServer = worker.NewWorkerServer(redisOpt, autosave, log)
		app.scheduler = worker.NewAutosaveScheduler(redisOpt, cfg.AutosaveInterval, log)
	default:
		app.autosaveLoop = service.NewAutosaveLoop(autosave, cfg.AutosaveInterval)
	}
	log.WithField("driver", cfg.AutosaveDriver).Info("Autosave driver configured")

	// 8. 初始化 Gin Engine 和路由
	app.router = newRouter(cfg, log, redisClient, wsh, roomHandler)
	log.Info("Application assembled successfully")
	return app, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	level, _ := logrus.ParseLevel(cfg.LogLevel) // LoadConfig 已校验
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true, ForceColors: true}
	if cfg.AppEnv == "production" {
		formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	log.SetFormatter(formatter)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 各包通过 logrus 包级函数记录日志，标准 logger 使用相同配置
	logrus.SetFormatter(formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

func newRouter(cfg *Config, log *logrus.Logger, redisClient *redis.Client, wsh *wsHandler.WebSocketHandler, roomHandler *httpHandler.RoomHandler) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(func(c *gin.Context) { /* CORS */
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/ws", wsh.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	{
		api.GET("/rooms/:roomId/status", roomHandler.GetStatus)
		api.GET("/rooms/:roomId/members", roomHandler.GetMembers)
	}
	return router
}

// Start 在指定端口上开始服务 (0 表示随机端口)，并启动 Hub 与自动保存。
// 重复调用返回同一个 Handle。
func (a *App) Start(port int) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil {
		return a.handle, nil
	}
	if a.stopped {
		return nil, ErrAppStopped
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	if err := a.startAutosave(); err != nil {
		_ = ln.Close()
		return nil, err
	}

	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	a.HttpServer = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(srv *http.Server) {
		a.Log.Infof("HTTP server starting to listen on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Errorf("HTTP server stopped unexpectedly: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}(a.HttpServer)

	tcpAddr, _ := ln.Addr().(*net.TCPAddr)
	a.handle = &Handle{Addr: ln.Addr().String()}
	if tcpAddr != nil {
		a.handle.Port = tcpAddr.Port
	}
	return a.handle, nil
}

func (a *App) startAutosave() error {
	if a.autosaveLoop != nil {
		a.autosaveLoop.Start()
		return nil
	}
	if err := a.workerServer.Start(); err != nil {
		return err
	}
	if err := a.scheduler.Start(); err != nil {
		a.workerServer.Shutdown()
		return err
	}
	return nil
}

func (a *App) stopAutosave() {
	if a.autosaveLoop != nil {
		a.autosaveLoop.Stop()
		return
	}
	a.scheduler.Shutdown()
	a.workerServer.Shutdown()
}

// Stop 关闭全部连接、停止自动保存与 HTTP 服务并释放端口，最后做一次完整落库。可重复调用。
func (a *App) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	started := a.handle != nil
	a.handle = nil
	a.mu.Unlock()

	if !started {
		return
	}
	a.Log.Info("Stopping application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// WebSocket 连接已被劫持，Shutdown 不会关闭它们
	a.Hub.Stop()
	a.Log.Info("All client connections closed")

	a.stopAutosave()

	report := a.autosave.FlushAll(ctx)
	a.Log.WithFields(logrus.Fields{"rooms": report.Rooms, "saved": report.Saved, "failed": report.Failed}).Info("Final autosave completed")
}

// Shutdown 停止服务并关闭 Redis 与数据库连接
func (a *App) Shutdown() {
	a.Stop()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if a.DB != nil {
		closeDB(a.Log, a.DB)
	}
	a.Log.Info("Application shutdown complete.")
}

func closeDB(log *logrus.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("Error getting database handle: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Errorf("Error closing database connection: %v", err)
		return
	}
	log.Info("Database connection closed.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Debug("Request handled")
		}
	}
}
