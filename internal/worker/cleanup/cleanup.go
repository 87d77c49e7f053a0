// Package cleanup は期限切れレコードの定期削除ジョブを提供する。
// 有効期限を過ぎたPendingRequest（放棄されたログイン試行）とセッションを
// 一定間隔で削除する。RedisのようにTTLで自動削除されるバックエンドは対象外。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/oauthgate/internal/metrics"
	"github.com/hitoshi/oauthgate/internal/repository"
)

// DefaultInterval はクリーンアップの実行間隔のデフォルト値。
const DefaultInterval = 5 * time.Minute

// Target は削除対象の名前とその削除処理の組。
type Target struct {
	Name   string
	Purger repository.ExpiredPurger
}

// CleanupJob は期限切れレコードの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	targets []Target
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(targets []Target, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		targets: targets,
		metrics: collector,
		logger:  logger,
	}
}

// Run はすべての対象から期限切れレコードを削除する。
// 1つの対象が失敗しても残りの対象の削除は継続し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	var total int64
	for _, target := range j.targets {
		deleted, err := target.Purger.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("期限切れレコードの削除に失敗しました",
				slog.String("target", target.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s の削除に失敗: %w", target.Name, err))
			continue
		}
		total += deleted
		j.metrics.RecordExpiredPurged(target.Name, deleted)
		j.logger.Debug("期限切れレコードを削除しました",
			slog.String("target", target.Name),
			slog.Int64("deleted_count", deleted),
		)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("target_count", len(j.targets)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は指定間隔のティッカーでジョブを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
