package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/marketbrief/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByHandle は指定ハンドルのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByHandle(ctx context.Context, handle string) (*model.TrackedAccount, error) {
	account := &model.TrackedAccount{}
	var lastFetchAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT handle, display_name, last_post_id, last_fetch_at, last_summary_id, created_at, updated_at
		 FROM tracked_accounts WHERE handle = $1`,
		handle,
	).Scan(
		&account.Handle, &account.DisplayName, &account.LastPostID,
		&lastFetchAt, &account.LastSummaryID, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}

	if lastFetchAt.Valid {
		t := lastFetchAt.Time.UTC()
		account.LastFetchAt = &t
	}

	return account, nil
}

// List は全アカウントをハンドル昇順で返す。
func (r *PostgresAccountRepo) List(ctx context.Context) ([]*model.TrackedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT handle, display_name, last_post_id, last_fetch_at, last_summary_id, created_at, updated_at
		 FROM tracked_accounts ORDER BY handle ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var accounts []*model.TrackedAccount
	for rows.Next() {
		account := &model.TrackedAccount{}
		var lastFetchAt sql.NullTime

		if err := rows.Scan(
			&account.Handle, &account.DisplayName, &account.LastPostID,
			&lastFetchAt, &account.LastSummaryID, &account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("アカウント一覧の読み取りに失敗しました: %w", err)
		}

		if lastFetchAt.Valid {
			t := lastFetchAt.Time.UTC()
			account.LastFetchAt = &t
		}

		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アカウント一覧の走査に失敗しました: %w", err)
	}

	return accounts, nil
}

// Create はアカウントを作成する。同一ハンドルが既に存在する場合はエラーを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.TrackedAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tracked_accounts (handle, display_name, last_post_id, last_fetch_at, last_summary_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.Handle, account.DisplayName, account.LastPostID,
		nullTime(account.LastFetchAt), account.LastSummaryID,
	)
	if err != nil {
		// 23505 = unique_violation
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return model.NewAccountExistsError(account.Handle)
		}
		return fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定ハンドルのアカウントを削除する。削除された場合はtrueを返す。
func (r *PostgresAccountRepo) Delete(ctx context.Context, handle string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tracked_accounts WHERE handle = $1`,
		handle,
	)
	if err != nil {
		return false, fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// CommitFetchState はサイクルのコミット時に取得状態を更新する。
// last_post_idの単調非減少はSQL側の比較で保証する。snowflake IDは
// 桁数が多いほど大きいため、(length, value) の辞書順比較で大小を判定する。
func (r *PostgresAccountRepo) CommitFetchState(ctx context.Context, handle, lastPostID string, lastFetchAt *time.Time, lastSummaryID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_accounts SET
		    last_post_id = CASE
		        WHEN $2 = '' THEN last_post_id
		        WHEN last_post_id = '' THEN $2
		        WHEN (length($2), $2) > (length(last_post_id), last_post_id) THEN $2
		        ELSE last_post_id
		    END,
		    last_fetch_at = COALESCE($3, last_fetch_at),
		    last_summary_id = CASE WHEN $4 = '' THEN last_summary_id ELSE $4 END,
		    updated_at = now()
		 WHERE handle = $1`,
		handle, lastPostID, nullTime(lastFetchAt), lastSummaryID,
	)
	if err != nil {
		return fmt.Errorf("取得状態のコミットに失敗しました: %w", err)
	}
	return nil
}

// UpdateDisplayName はアカウントの表示名を更新する。
func (r *PostgresAccountRepo) UpdateDisplayName(ctx context.Context, handle, displayName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_accounts SET display_name = $2, updated_at = now() WHERE handle = $1`,
		handle, displayName,
	)
	if err != nil {
		return fmt.Errorf("表示名の更新に失敗しました: %w", err)
	}
	return nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
