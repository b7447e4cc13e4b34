package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSchedulerStateRepo はPostgreSQLを使用したスケジューラ状態リポジトリ。
// 単一行テーブルで一時停止フラグを再起動をまたいで保持する。
type PostgresSchedulerStateRepo struct {
	db *sql.DB
}

// NewPostgresSchedulerStateRepo はPostgresSchedulerStateRepoを生成する。
func NewPostgresSchedulerStateRepo(db *sql.DB) *PostgresSchedulerStateRepo {
	return &PostgresSchedulerStateRepo{db: db}
}

// GetPaused は永続化された一時停止フラグを取得する。
// 行が存在しない場合はfalseを返す。
func (r *PostgresSchedulerStateRepo) GetPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := r.db.QueryRowContext(ctx,
		`SELECT paused FROM scheduler_state WHERE id = 1`,
	).Scan(&paused)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("スケジューラ状態の取得に失敗しました: %w", err)
	}
	return paused, nil
}

// SetPaused は一時停止フラグを永続化する。
func (r *PostgresSchedulerStateRepo) SetPaused(ctx context.Context, paused bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (id, paused, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET paused = EXCLUDED.paused, updated_at = now()`,
		paused,
	)
	if err != nil {
		return fmt.Errorf("スケジューラ状態の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SchedulerStateRepository = (*PostgresSchedulerStateRepo)(nil)
