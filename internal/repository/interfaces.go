// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
)

// AccountRepository は監視アカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByHandle は指定ハンドルのアカウントを取得する。見つからない場合はnilを返す。
	FindByHandle(ctx context.Context, handle string) (*model.TrackedAccount, error)

	// List は全アカウントをハンドル昇順で返す。
	List(ctx context.Context) ([]*model.TrackedAccount, error)

	// Create はアカウントを作成する。同一ハンドルが既に存在する場合はエラーを返す。
	Create(ctx context.Context, account *model.TrackedAccount) error

	// Delete は指定ハンドルのアカウントを削除する。
	// 削除された場合はtrueを返す。
	Delete(ctx context.Context, handle string) (bool, error)

	// CommitFetchState はサイクルのコミット時に取得状態を更新する。
	// lastPostIDは単調非減少を保つため、現在値より大きい場合のみ更新される。
	// lastFetchAtがnilの場合はタイムスタンプを更新しない。
	CommitFetchState(ctx context.Context, handle, lastPostID string, lastFetchAt *time.Time, lastSummaryID string) error

	// UpdateDisplayName はアカウントの表示名を更新する。
	// 初回フェッチ時に投稿の投稿者名から補完するために使用する。
	UpdateDisplayName(ctx context.Context, handle, displayName string) error
}

// SummaryRepository はサマリーデータの永続化インターフェース。
type SummaryRepository interface {
	// Create はサマリーを保存する。
	// 同一の投稿IDセットから生成済みのサマリーが存在する場合は挿入をスキップし、
	// falseを返す（二重生成ガード）。
	Create(ctx context.Context, summary *model.Summary) (bool, error)

	// FindLatest は最新のサマリーを取得する。存在しない場合はnilを返す。
	FindLatest(ctx context.Context) (*model.Summary, error)

	// List はサマリーを作成日時降順で最大limit件返す。
	List(ctx context.Context, limit int) ([]*model.Summary, error)
}

// CycleLogRepository はサイクル実行ログの永続化インターフェース。追記専用。
type CycleLogRepository interface {
	// Append はサイクルレコードを追記し、採番されたIDを設定する。
	Append(ctx context.Context, record *model.CycleRecord) error

	// ListRecent はサイクルレコードを開始時刻降順で最大limit件返す。
	ListRecent(ctx context.Context, limit int) ([]*model.CycleRecord, error)
}

// SchedulerStateRepository はスケジューラの永続状態のインターフェース。
// 一時停止フラグを再起動をまたいで保持する。
type SchedulerStateRepository interface {
	// GetPaused は永続化された一時停止フラグを取得する。
	GetPaused(ctx context.Context) (bool, error)

	// SetPaused は一時停止フラグを永続化する。
	SetPaused(ctx context.Context, paused bool) error
}
