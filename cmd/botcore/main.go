// =============================================================================
// botcore 主入口
// =============================================================================
// 机器人网关核心服务：三层记忆、入站限流、出站广播
//
// 使用方法:
//
//	botcore serve                       # 启动服务
//	botcore serve --config config.yaml  # 指定配置文件
//	botcore version                     # 显示版本信息
//	botcore health                      # 健康检查
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/94cram/botcore/broadcast"
	"github.com/94cram/botcore/config"
	"github.com/94cram/botcore/internal/cache"
	"github.com/94cram/botcore/internal/genai"
	"github.com/94cram/botcore/internal/metrics"
	"github.com/94cram/botcore/internal/storage"
	"github.com/94cram/botcore/memory"
	"github.com/94cram/botcore/ratelimit"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.BuildLogger()
	defer logger.Sync()

	logger.Info("Starting botcore",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector("botcore", registry, logger)

	// Redis 缓存层可选：不可用时只降级到单层进程内缓存
	var redisClient *redis.Client
	if client, err := cache.NewRedisClient(cfg.Redis); err != nil {
		logger.Warn("redis unavailable, running with memory cache only", zap.Error(err))
	} else {
		redisClient = client
	}

	// Mongo 是权威存储，必须可用
	store, err := storage.NewClient(cfg.Mongo, logger)
	if err != nil {
		logger.Fatal("mongodb unavailable", zap.Error(err))
	}

	buildCache := func(name string, ttl time.Duration) *cache.Layered {
		tiers := []cache.Tier{cache.NewMemory(cfg.Memory.CacheCapacity)}
		if redisClient != nil {
			tiers = append(tiers, cache.NewRedis(redisClient, name+":", logger))
		}
		return cache.NewLayered(name, ttl, logger, mc, tiers...)
	}

	// 记忆子系统
	globalStore := memory.NewGlobalStore(store.GlobalRepo(),
		buildCache("memory:global", cfg.Memory.GlobalTTL), logger)
	tenantStore := memory.NewTenantStore(store.TenantRepo(),
		buildCache("memory:tenant", cfg.Memory.TenantTTL), logger)
	userStore := memory.NewUserStore(store.UserRepo(),
		buildCache("memory:user", cfg.Memory.UserTTL), cfg.Memory.User, logger)

	llm := genai.NewClient(cfg.GenAI, logger)
	extractor := memory.NewExtractor(llm, cfg.GenAI.Timeout, logger, mc)
	manager := memory.NewManager(globalStore, tenantStore, userStore, extractor,
		cfg.Memory.Manager, logger, mc)

	// 入站限流
	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger, mc)

	// 出站广播
	var sender broadcast.Sender
	if cfg.Telegram.Token != "" {
		ts, err := broadcast.NewTelegramSender(cfg.Telegram, logger)
		if err != nil {
			logger.Fatal("telegram sender init failed", zap.Error(err))
		}
		sender = ts
	} else {
		logger.Warn("telegram token not configured, broadcast sends are dropped")
		sender = broadcast.SenderFunc(func(context.Context, int64, string) error {
			return errors.New("no sender configured")
		})
	}
	queue := broadcast.NewQueue(sender, cfg.Broadcast, logger, mc)

	// 后台清扫
	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Janitor.BucketSweepSpec, func() {
		limiter.Sweep(cfg.Janitor.BucketIdle)
	}); err != nil {
		logger.Fatal("invalid bucket sweep spec", zap.Error(err))
	}
	if _, err := janitor.AddFunc(cfg.Janitor.JobSweepSpec, func() {
		queue.Sweep(cfg.Janitor.JobRetention)
	}); err != nil {
		logger.Fatal("invalid job sweep spec", zap.Error(err))
	}
	janitor.Start()

	// HTTP：健康检查、指标、广播管理面
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(store, redisClient))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/broadcast", broadcastHandler(queue))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 等待关闭信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	janitor.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	queue.Close()
	manager.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("mongo disconnect", zap.Error(err))
	}

	logger.Info("botcore stopped")
}

// =============================================================================
// 🌐 HTTP 处理器
// =============================================================================

func healthHandler(store *storage.Client, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{"mongo": "ok", "redis": "ok"}
		healthy := true
		if err := store.Ping(ctx); err != nil {
			status["mongo"] = err.Error()
			healthy = false
		}
		if redisClient == nil {
			status["redis"] = "disabled"
		} else if err := redisClient.Ping(ctx).Err(); err != nil {
			// 缓存层故障只降级，不判定为不健康
			status["redis"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

type enqueueRequest struct {
	Recipients []int64 `json:"recipients"`
	Payload    string  `json:"payload"`
}

func broadcastHandler(queue *broadcast.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			var req enqueueRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			id, err := queue.Enqueue(req.Recipients, req.Payload)
			if err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, broadcast.ErrNoRecipients) {
					code = http.StatusBadRequest
				} else if errors.Is(err, broadcast.ErrQueueFull) {
					code = http.StatusTooManyRequests
				}
				w.WriteHeader(code)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"job_id": id})

		case http.MethodGet:
			id := r.URL.Query().Get("id")
			if id == "" {
				_ = json.NewEncoder(w).Encode(queue.Jobs())
				return
			}
			job := queue.Job(id)
			if job == nil {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
				return
			}
			_ = json.NewEncoder(w).Encode(job)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("botcore %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`botcore - bot gateway core (memory, rate limiting, broadcast)

Usage:
  botcore <command> [options]

Commands:
  serve     Start the botcore server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  botcore serve
  botcore serve --config /etc/botcore/config.yaml
  botcore health --addr http://localhost:8080
  botcore version`)
}
