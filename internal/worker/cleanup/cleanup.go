// Package cleanup は期限切れのワンタイムトークンとセッションを削除するジョブを提供する。
// トークンの単回使用は消費時の削除で保証されており、
// このジョブは使われずに期限を過ぎた行を掃除するだけである。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// 削除対象テーブルと期限切れ判定のクエリ。
var targets = []struct {
	name  string
	query string
}{
	{name: "tokens", query: `DELETE FROM tokens WHERE expires_at <= now()`},
	{name: "sessions", query: `DELETE FROM sessions WHERE expires_at <= now()`},
}

// Result はジョブ1回分の削除件数。
type Result struct {
	Tokens   int64
	Sessions int64
}

// CleanupJob は期限切れトークンとセッションの削除ジョブ。
// 冪等であり、何度実行しても結果は変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
	}
}

// Run は期限切れのトークンとセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	for _, t := range targets {
		result, err := j.db.ExecContext(ctx, t.query)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			return res, fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		switch t.name {
		case "tokens":
			res.Tokens = n
		case "sessions":
			res.Sessions = n
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_tokens", res.Tokens),
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
// ctxがキャンセルされると終了する。実行中のエラーは記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("次回のクリーンアップで再試行します", slog.Duration("interval", interval))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
