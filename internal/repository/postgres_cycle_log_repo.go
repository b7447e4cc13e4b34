package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/marketbrief/internal/model"
)

// PostgresCycleLogRepo はPostgreSQLを使用したサイクルログリポジトリ。
type PostgresCycleLogRepo struct {
	db *sql.DB
}

// NewPostgresCycleLogRepo はPostgresCycleLogRepoを生成する。
func NewPostgresCycleLogRepo(db *sql.DB) *PostgresCycleLogRepo {
	return &PostgresCycleLogRepo{db: db}
}

// Append はサイクルレコードを追記し、採番されたIDを設定する。
func (r *PostgresCycleLogRepo) Append(ctx context.Context, record *model.CycleRecord) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO cycle_logs (started_at, trigger_kind, status, attempt, accounts_processed, posts_fetched, summary_id, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		record.StartedAt, record.TriggerKind, record.Status, record.Attempt,
		record.AccountsProcessed, record.PostsFetched, record.SummaryID, record.ErrorMessage,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("サイクルログの追記に失敗しました: %w", err)
	}
	return nil
}

// ListRecent はサイクルレコードを開始時刻降順で最大limit件返す。
func (r *PostgresCycleLogRepo) ListRecent(ctx context.Context, limit int) ([]*model.CycleRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, trigger_kind, status, attempt, accounts_processed, posts_fetched, summary_id, error_message
		 FROM cycle_logs ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("サイクルログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []*model.CycleRecord
	for rows.Next() {
		record := &model.CycleRecord{}
		if err := rows.Scan(
			&record.ID, &record.StartedAt, &record.TriggerKind, &record.Status,
			&record.Attempt, &record.AccountsProcessed, &record.PostsFetched,
			&record.SummaryID, &record.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("サイクルログの読み取りに失敗しました: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイクルログの走査に失敗しました: %w", err)
	}

	return records, nil
}

// compile-time interface check
var _ CycleLogRepository = (*PostgresCycleLogRepo)(nil)
