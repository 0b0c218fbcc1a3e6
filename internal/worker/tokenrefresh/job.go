// Package tokenrefresh は新パネルの管理者トークンを定期的に更新するジョブを提供する。
package tokenrefresh

import (
	"context"
	"log/slog"
	"time"
)

// Refresher はトークン更新のインターフェース。
// *credential.Manager が実装する。テスト時にモックに差し替え可能。
type Refresher interface {
	Refresh(ctx context.Context) error
}

// DefaultInterval はトークン更新のデフォルト間隔。
const DefaultInterval = time.Hour

// Job はティッカーで定期的にトークンを更新するジョブ。
// 更新の失敗はログに記録するのみで、ジョブは継続する。
type Job struct {
	refresher Refresher
	logger    *slog.Logger
	interval  time.Duration
}

// NewJob は Job の新しいインスタンスを生成する。
// interval が0以下の場合はデフォルト間隔を使用する。
func NewJob(refresher Refresher, interval time.Duration, logger *slog.Logger) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Job{
		refresher: refresher,
		logger:    logger,
		interval:  interval,
	}
}

// Start はジョブをティッカーで定期実行する。
// 起動直後の更新は呼び出し元が行うため、最初の実行は1間隔後となる。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("トークン更新ジョブを開始しました",
		slog.Duration("interval", j.interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("トークン更新ジョブを停止しました")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce は1回のトークン更新を実行する。
// 失敗時は保存済みのトークンが維持される。
func (j *Job) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := j.refresher.Refresh(ctx); err != nil {
		j.logger.Warn("トークン更新に失敗しました。保存済みのトークンを継続使用します",
			slog.String("error", err.Error()),
		)
		return
	}
	j.logger.Info("トークン更新サイクルが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
