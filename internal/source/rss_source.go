package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/security"
)

// RSSSource はRSSミラー（Nitter互換）を使用した投稿ソース。
// 時刻範囲検索をサポートしないため、呼び出し元は常にカーソル戦略を使用する。
// 投稿本文はHTML断片で届くため、保存前にプレーンテキストへ変換する。
type RSSSource struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	parser     *gofeed.Parser
	sanitizer  security.PostSanitizerService
	baseURL    string
}

// NewRSSSource はRSSSourceの新しいインスタンスを生成する。
func NewRSSSource(httpClient *http.Client, logger *slog.Logger, sanitizer security.PostSanitizerService, baseURL string, requestsPerMinute int) *RSSSource {
	return &RSSSource{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		parser:     gofeed.NewParser(),
		sanitizer:  sanitizer,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SearchByWindow はERRを返す。RSSミラーは時刻範囲検索を提供しない。
func (s *RSSSource) SearchByWindow(ctx context.Context, handle string, window SearchWindow) ([]model.Post, error) {
	return nil, ErrWindowUnsupported
}

// RecentTimeline はアカウントのRSSフィードを取得して投稿に変換する。
// フィードは新しい順に並んでいる。
func (s *RSSSource) RecentTimeline(ctx context.Context, handle string) ([]model.Post, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL := fmt.Sprintf("%s/%s/rss", s.baseURL, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RSSフィードの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RSSミラーがステータス %d を返しました", resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("RSSフィードのパースに失敗しました: %w", err)
	}

	var posts []model.Post
	for _, item := range feed.Items {
		posts = append(posts, s.itemToPost(handle, item))
	}

	s.logger.Info("RSSタイムライン取得が完了しました",
		slog.String("handle", handle),
		slog.Int("post_count", len(posts)),
	)
	return posts, nil
}

// ServerTime はフィードの更新時刻を持たないためローカルクロックを返す。
// RSSソースは常にカーソル戦略で動作するため、この値が検索窓に使われることはない。
func (s *RSSSource) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// itemToPost はフィードアイテムをドメインモデルに変換する。
// Nitter互換ミラーのタイトル規約で種別を判定する:
// "RT by @handle:" はリポスト、"R to @someone:" はリプライ。
func (s *RSSSource) itemToPost(handle string, item *gofeed.Item) model.Post {
	post := model.Post{
		ID:            postIDFromLink(item.Link),
		AccountHandle: handle,
		AuthorHandle:  handle,
		Text:          s.sanitizer.Flatten(item.Description),
		Kind:          model.PostKindOriginal,
		Permalink:     item.Link,
	}

	if item.PublishedParsed != nil {
		post.CreatedAt = item.PublishedParsed.UTC()
	}

	if item.Author != nil {
		post.AuthorName = item.Author.Name
	}
	// Nitter互換ミラーはdc:creatorに投稿者ハンドルを入れる
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		if creator := strings.TrimPrefix(item.DublinCoreExt.Creator[0], "@"); creator != "" {
			post.AuthorHandle = creator
		}
	}

	title := item.Title
	switch {
	case strings.HasPrefix(title, "RT by @"):
		post.Kind = model.PostKindReshare
		post.RefText = post.Text
	case strings.HasPrefix(title, "R to @"):
		post.Kind = model.PostKindReply
		post.ReplyToHandle = replyTargetFromTitle(title)
	}

	return post
}

// postIDFromLink はパーマリンクの末尾パス要素から投稿IDを取り出す。
// 例: https://mirror.example.com/handle/status/1850000000000000000#m
func postIDFromLink(link string) string {
	trimmed := strings.TrimSuffix(link, "#m")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// replyTargetFromTitle は"R to @someone: ..."形式のタイトルからリプライ先を取り出す。
func replyTargetFromTitle(title string) string {
	rest := strings.TrimPrefix(title, "R to @")
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		return rest[:idx]
	}
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// compile-time interface check
var _ PostSource = (*RSSSource)(nil)
