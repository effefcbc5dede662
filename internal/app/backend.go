package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/notemodules/internal/config"
	"github.com/hitoshi/notemodules/internal/database"
	"github.com/hitoshi/notemodules/internal/mongostore"
	"github.com/hitoshi/notemodules/internal/repository"
)

// backend は選択したドキュメントストアのリポジトリと接続をまとめたもの。
type backend struct {
	users   repository.UserRepository
	modules repository.ModuleRepository

	// ping は/healthで使う疎通確認。
	ping func(ctx context.Context) error
	// prepare はスキーマの適用（PostgreSQL）またはインデックス作成（MongoDB）を行う。
	prepare func(ctx context.Context) error
	close   func(ctx context.Context) error
}

// Ping はhandler.Pingerを満たす。
func (b *backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// openBackend はDATABASE_URLのスキームに応じてリポジトリを構築し、接続を確立する。
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.DatabaseKind {
	case config.DatabasePostgres:
		return openPostgres(ctx, cfg)
	case config.DatabaseMongo:
		return openMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database kind: %q", cfg.DatabaseKind)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*backend, error) {
	client := database.NewClient(cfg.DatabaseURL)
	db, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("database connection established", slog.String("kind", string(cfg.DatabaseKind)))

	return &backend{
		users:   repository.NewPostgresUserRepo(db),
		modules: repository.NewPostgresModuleRepo(db),
		ping:    client.Ping,
		prepare: func(context.Context) error {
			return database.RunMigrations(cfg.DatabaseURL)
		},
		close: func(context.Context) error {
			return client.Close()
		},
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*backend, error) {
	client := mongostore.NewClient(cfg.DatabaseURL, cfg.MongoDatabase)
	if _, err := client.Connect(ctx); err != nil {
		return nil, err
	}

	slog.Info("database connection established",
		slog.String("kind", string(cfg.DatabaseKind)),
		slog.String("database", cfg.MongoDatabase),
	)

	return &backend{
		users:   repository.NewMongoUserRepo(client),
		modules: repository.NewMongoModuleRepo(client),
		ping:    client.Ping,
		prepare: client.EnsureIndexes,
		close:   client.Close,
	}, nil
}

// retryPolicy は接続の再試行回数と待機時間の上下限。
type retryPolicy struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

var defaultConnectRetry = retryPolicy{
	attempts: 5,
	initial:  500 * time.Millisecond,
	max:      8 * time.Second,
}

// backoff は連続失敗回数に基づいて指数バックオフの待機時間を計算する。
// 初回はinitial、2倍ずつ増加し、maxで頭打ちになる。
func (p retryPolicy) backoff(failures int) time.Duration {
	delay := p.initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > p.max {
			return p.max
		}
	}
	return delay
}

// connectWithRetry はopenが成功するまで最大attempts回呼び出す。
// ctxがキャンセルされた場合は待機を打ち切って最後のエラーを返す。
func connectWithRetry(ctx context.Context, p retryPolicy, open func(context.Context) (*backend, error)) (*backend, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		b, err := open(ctx)
		if err == nil {
			return b, nil
		}
		lastErr = err
		if attempt == p.attempts {
			break
		}

		wait := p.backoff(attempt)
		slog.Warn("document store is not reachable, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
