// Package cleanup はどのノートからも参照されなくなったアップロードファイルを削除するジョブを提供する。
// ノート削除とファイル削除は同一トランザクションではないため、
// 取り残されたファイルをこのジョブでまとめて回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/notemodules/internal/metrics"
	"github.com/hitoshi/notemodules/internal/upload"
)

// DefaultGracePeriod はアップロード直後のファイルを削除対象から外す猶予期間。
const DefaultGracePeriod = 24 * time.Hour

// FileURLSource はノートが参照するfileUrlの一覧を返す。
// repository.ModuleRepository が満たす。
type FileURLSource interface {
	ListFileURLs(ctx context.Context) ([]string, error)
}

// FileStore はアップロード保存先を抽象化するインターフェース。
type FileStore interface {
	List(ctx context.Context) ([]upload.StoredFile, error)
	Remove(ctx context.Context, fileURL string) error
}

// Result はRunの実行結果。
type Result struct {
	Scanned int
	Removed int
	Failed  int
}

// UploadCleanupJob は参照されていないアップロードファイルの削除ジョブ。
// 何度実行しても同じ結果になる。
type UploadCleanupJob struct {
	notes   FileURLSource
	store   FileStore
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	GracePeriod time.Duration
}

// NewUploadCleanupJob は新しいUploadCleanupJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewUploadCleanupJob(notes FileURLSource, store FileStore, logger *slog.Logger, collector metrics.MetricsCollector) *UploadCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &UploadCleanupJob{
		notes:       notes,
		store:       store,
		logger:      logger,
		metrics:     collector,
		now:         time.Now,
		GracePeriod: DefaultGracePeriod,
	}
}

// Run は保存先のファイルを走査し、どのノートからも参照されておらず
// 更新時刻がGracePeriodより古いファイルを削除する。
// 個々のファイルの削除失敗はログに残して処理を続行する。
func (j *UploadCleanupJob) Run(ctx context.Context) (Result, error) {
	start := j.now()

	urls, err := j.notes.ListFileURLs(ctx)
	if err != nil {
		j.logger.Error("参照中ファイルの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("参照中ファイルの取得に失敗: %w", err)
	}
	referenced := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		referenced[u] = struct{}{}
	}

	files, err := j.store.List(ctx)
	if err != nil {
		j.logger.Error("アップロードファイル一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("アップロードファイル一覧の取得に失敗: %w", err)
	}

	cutoff := start.Add(-j.GracePeriod)
	res := Result{Scanned: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := referenced[f.URL]; ok {
			continue
		}
		if f.ModTime.After(cutoff) {
			continue
		}
		if err := j.store.Remove(ctx, f.URL); err != nil {
			res.Failed++
			j.logger.Warn("孤立ファイルの削除に失敗しました",
				slog.String("file", f.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Removed++
	}

	j.metrics.RecordOrphansRemoved(res.Removed)

	j.logger.Info("アップロードクリーンアップジョブが完了しました",
		slog.Int("scanned_count", res.Scanned),
		slog.Int("deleted_count", res.Removed),
		slog.Int("failed_count", res.Failed),
		slog.Duration("grace_period", j.GracePeriod),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	return res, nil
}
