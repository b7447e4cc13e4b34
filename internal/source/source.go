// Package source は投稿ソースへのアクセスを提供する。
// JSON APIソースとRSSミラーソースの2実装があり、どちらも
// PostSourceインターフェースを満たす。
package source

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
)

// ErrWindowUnsupported は時刻範囲検索をサポートしないソースが返すエラー。
// 呼び出し元はカーソル戦略にフォールバックする。
var ErrWindowUnsupported = errors.New("このソースは時刻範囲検索をサポートしていません")

// SearchWindow は時刻範囲検索の検索窓を表す。両端を含む。
type SearchWindow struct {
	Since time.Time
	Until time.Time
}

// PostSource は投稿ソースのインターフェース。
type PostSource interface {
	// SearchByWindow は指定アカウントの投稿を時刻範囲で検索する。
	// ページネーションは内部で処理され、全ページが連結されて返る。
	// 時刻範囲検索をサポートしないソースはErrWindowUnsupportedを返す。
	SearchByWindow(ctx context.Context, handle string, window SearchWindow) ([]model.Post, error)

	// RecentTimeline は指定アカウントの直近の投稿を新しい順で返す。
	// ページ数は内部で制限される。
	RecentTimeline(ctx context.Context, handle string) ([]model.Post, error)

	// ServerTime はソース側の信頼できる現在時刻をUTCで返す。
	// ローカルクロックとのずれによる検索窓の欠落を防ぐために使用する。
	ServerTime(ctx context.Context) (time.Time, error)
}
