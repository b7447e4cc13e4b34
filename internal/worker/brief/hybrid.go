// Package brief は投稿の取得からサマリー生成までのサイクル実行を提供する。
// スケジューラ、ハイブリッドフェッチ、投稿選択、リトライ戦略を含む。
package brief

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/source"
)

// timestampBuffer はタイムスタンプ戦略の検索窓下端に適用するバッファ。
// クロックずれやソース側のインデックス境界の丸めによる取りこぼしを吸収する。
const timestampBuffer = time.Second

// Coordinator は1アカウント分のフェッチをハイブリッド戦略で実行する。
// タイムスタンプ戦略（時刻範囲検索）を優先し、使用不可・0件・エラーの
// 場合はカーソル戦略（直近タイムライン + ID絞り込み）にフォールバックする。
type Coordinator struct {
	source source.PostSource
	logger *slog.Logger
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
func NewCoordinator(src source.PostSource, logger *slog.Logger) *Coordinator {
	return &Coordinator{source: src, logger: logger}
}

// Fetch は指定アカウントの新着投稿を取得する。
// 両戦略がハードエラーを返した場合のみSucceeded=falseとなり、
// アカウントの保存状態には一切触れない（コミットは呼び出し元が行う）。
func (c *Coordinator) Fetch(ctx context.Context, account *model.TrackedAccount) model.FetchOutcome {
	outcome := model.FetchOutcome{Handle: account.Handle}

	// 検索窓の上端はローカルクロックではなくソース側の時刻を使用する。
	serverNow, err := c.source.ServerTime(ctx)
	if err != nil {
		serverNow = time.Now().UTC()
		c.logger.Warn("ソース時刻の取得に失敗しました。ローカルクロックを使用します",
			slog.String("handle", account.Handle),
			slog.String("error", err.Error()),
		)
	}
	outcome.FetchedAt = serverNow

	var timestampErr error
	timestampClean := false
	if account.LastFetchAt != nil {
		window := source.SearchWindow{
			Since: account.LastFetchAt.Add(-timestampBuffer),
			Until: serverNow,
		}
		posts, err := c.source.SearchByWindow(ctx, account.Handle, window)
		if err == nil && len(posts) > 0 {
			outcome.Posts = posts
			outcome.StrategyUsed = model.StrategyTimestamp
			outcome.Succeeded = true
			return outcome
		}
		timestampErr = err
		if err != nil {
			c.logger.Warn("タイムスタンプ戦略が失敗しました。カーソル戦略にフォールバックします",
				slog.String("handle", account.Handle),
				slog.String("error", err.Error()),
			)
		} else {
			timestampClean = true
		}
	}

	posts, err := c.source.RecentTimeline(ctx, account.Handle)
	if err != nil {
		// 片方の戦略がハードエラーなしで完了していればフェッチは成功。
		// タイムスタンプ戦略が正常に0件を返した後のカーソルエラーは
		// 新着なしとして扱い、タイムスタンプの前進を妨げない。
		if timestampClean {
			c.logger.Warn("カーソル戦略が失敗しましたが、タイムスタンプ戦略は完了済みです",
				slog.String("handle", account.Handle),
				slog.String("error", err.Error()),
			)
			outcome.StrategyUsed = model.StrategyNone
			outcome.Succeeded = true
			return outcome
		}
		outcome.StrategyUsed = model.StrategyNone
		outcome.Succeeded = false
		if timestampErr != nil {
			outcome.ErrorMessage = "両戦略が失敗しました: " + timestampErr.Error() + " / " + err.Error()
		} else {
			outcome.ErrorMessage = err.Error()
		}
		return outcome
	}

	kept := filterNewerThan(posts, account.LastPostID)
	outcome.Succeeded = true
	if len(kept) > 0 {
		outcome.Posts = kept
		outcome.StrategyUsed = model.StrategyCursor
	} else {
		outcome.StrategyUsed = model.StrategyNone
	}
	return outcome
}

// filterNewerThan はcursorより新しい（IDが大きい）投稿のみを残す。
// cursorが空（初回フェッチ）の場合は全件を残す。
func filterNewerThan(posts []model.Post, cursor string) []model.Post {
	if cursor == "" {
		return posts
	}
	var kept []model.Post
	for _, p := range posts {
		if model.PostIDLess(cursor, p.ID) {
			kept = append(kept, p)
		}
	}
	return kept
}
