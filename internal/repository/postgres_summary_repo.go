package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/marketbrief/internal/model"
)

// PostgresSummaryRepo はPostgreSQLを使用したサマリーリポジトリ。
type PostgresSummaryRepo struct {
	db *sql.DB
}

// NewPostgresSummaryRepo はPostgresSummaryRepoを生成する。
func NewPostgresSummaryRepo(db *sql.DB) *PostgresSummaryRepo {
	return &PostgresSummaryRepo{db: db}
}

// postIDsKey はソート済み投稿IDの連結キーを返す。
// 投稿の順序に関わらず同一セットが同一キーになる。
func postIDsKey(postIDs []string) string {
	sorted := make([]string, len(postIDs))
	copy(sorted, postIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Create はサマリーを保存する。
// 同一の投稿IDセットから生成済みのサマリーが存在する場合は挿入をスキップし、falseを返す。
func (r *PostgresSummaryRepo) Create(ctx context.Context, summary *model.Summary) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO summaries (id, text, post_ids, post_ids_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (post_ids_key) DO NOTHING`,
		summary.ID, summary.Text, pq.Array(summary.PostIDs), postIDsKey(summary.PostIDs), summary.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("サマリーの保存に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入行数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// FindLatest は最新のサマリーを取得する。存在しない場合はnilを返す。
func (r *PostgresSummaryRepo) FindLatest(ctx context.Context) (*model.Summary, error) {
	summary := &model.Summary{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, text, post_ids, created_at
		 FROM summaries ORDER BY created_at DESC LIMIT 1`,
	).Scan(&summary.ID, &summary.Text, pq.Array(&summary.PostIDs), &summary.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新サマリーの取得に失敗しました: %w", err)
	}

	return summary, nil
}

// List はサマリーを作成日時降順で最大limit件返す。
func (r *PostgresSummaryRepo) List(ctx context.Context, limit int) ([]*model.Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, text, post_ids, created_at
		 FROM summaries ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("サマリー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var summaries []*model.Summary
	for rows.Next() {
		summary := &model.Summary{}
		if err := rows.Scan(&summary.ID, &summary.Text, pq.Array(&summary.PostIDs), &summary.CreatedAt); err != nil {
			return nil, fmt.Errorf("サマリー一覧の読み取りに失敗しました: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サマリー一覧の走査に失敗しました: %w", err)
	}

	return summaries, nil
}

// compile-time interface check
var _ SummaryRepository = (*PostgresSummaryRepo)(nil)
