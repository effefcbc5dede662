// Package app は設定の読み込み、依存関係の組み立て、サブコマンドの実行を行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/notemodules/internal/auth"
	"github.com/hitoshi/notemodules/internal/config"
	"github.com/hitoshi/notemodules/internal/handler"
	"github.com/hitoshi/notemodules/internal/logger"
	"github.com/hitoshi/notemodules/internal/markdown"
	"github.com/hitoshi/notemodules/internal/metrics"
	"github.com/hitoshi/notemodules/internal/middleware"
	"github.com/hitoshi/notemodules/internal/module"
	"github.com/hitoshi/notemodules/internal/security"
	"github.com/hitoshi/notemodules/internal/upload"
	"github.com/hitoshi/notemodules/internal/worker/cleanup"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("database", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandCleanup:
		return runCleanup(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// connectBackend はドキュメントストアに接続する。
// 起動直後はストアの準備が整っていないことがあるため、失敗時はバックオフを挟んで再試行する。
func connectBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b, err := connectWithRetry(ctx, defaultConnectRetry, func(ctx context.Context) (*backend, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return openBackend(connectCtx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	return b, nil
}

func closeBackend(b *backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.close(ctx); err != nil {
		slog.Warn("failed to close document store", slog.String("error", err.Error()))
	}
}

// newRegistry はアプリケーション用のPrometheusレジストリを生成する。
// Goランタイムとプロセスのメトリクスも登録する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildRouter はサービスとミドルウェアを組み立て、HTTPハンドラーを返す。
// 返されたRateLimiterはシャットダウン時に停止すること。
func buildRouter(cfg *config.Config, b *backend, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter) {
	collector := metrics.NewCollector(reg)

	tokens := auth.NewTokenManager([]byte(cfg.SessionSecret), cfg.SessionMaxAge)
	authService := auth.NewService(b.users, tokens)

	renderer := markdown.NewRenderer(security.NewContentSanitizer())
	files := upload.NewLocalStore(cfg.UploadDir, cfg.UploadURLPrefix)
	moduleService := module.NewService(b.modules, renderer, files, collector)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:  slog.Default(),
		Metrics: collector,
		Tokens:  tokens,
		Session: middleware.SessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			RefreshAfter: cfg.SessionRefreshAfter,
		},
		CSRFEnabled:       cfg.CSRFEnabled,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService:   authService,
		ModuleService: moduleService,
		Health:        b,

		MetricsHandler: metrics.Handler(reg),

		UploadDir:       files.Dir(),
		UploadURLPrefix: files.URLPrefix(),
		UploadMaxBytes:  cfg.UploadMaxBytes,
	})

	return router, rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// ドキュメントストアに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINTまたはSIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	router, rateLimiter := buildRouter(cfg, b, newRegistry())
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はPostgreSQLではすべての未適用マイグレーションを適用し、
// MongoDBではコレクションのインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	slog.Info("running database migrations",
		slog.String("kind", string(cfg.DatabaseKind)),
	)

	if err := b.prepare(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup はどのノートからも参照されていないアップロードファイルを1回だけ削除する。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	b, err := connectBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	store := upload.NewLocalStore(cfg.UploadDir, cfg.UploadURLPrefix)
	job := cleanup.NewUploadCleanupJob(b.modules, store, slog.Default(), nil)
	job.GracePeriod = cfg.UploadOrphanGrace

	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
