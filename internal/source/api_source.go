package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/marketbrief/internal/model"
)

const (
	// advancedSearchPath は時刻範囲検索のエンドポイント。
	advancedSearchPath = "/twitter/tweet/advanced_search"
	// recentTimelinePath は直近タイムライン取得のエンドポイント。
	recentTimelinePath = "/twitter/user/last_tweets"

	// maxSearchPages / maxTimelinePages はページネーションの上限。
	maxSearchPages   = 20
	maxTimelinePages = 5

	// searchTimeLayout は検索クエリの時刻形式（YYYY-MM-DD_HH:MM:SS_UTC）。
	searchTimeLayout = "2006-01-02_15:04:05_UTC"
)

// APISource はJSON APIを使用した投稿ソース。
// 上流のレート制限を尊重するため、全リクエストがレートリミッターを通る。
type APISource struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
}

// NewAPISource はAPISourceの新しいインスタンスを生成する。
// requestsPerMinuteはソースへのリクエストレート上限。
func NewAPISource(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey string, requestsPerMinute int) *APISource {
	return &APISource{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// searchResponse は検索・タイムラインAPIの共通レスポンス構造。
// タイムラインAPIはdata配下にネストされる。
type searchResponse struct {
	Status      string          `json:"status"`
	Msg         string          `json:"msg"`
	Tweets      []tweetJSON     `json:"tweets"`
	HasNextPage bool            `json:"has_next_page"`
	NextCursor  string          `json:"next_cursor"`
	Data        *timelinePage   `json:"data"`
}

type timelinePage struct {
	Tweets      []tweetJSON `json:"tweets"`
	HasNextPage bool        `json:"has_next_page"`
	NextCursor  string      `json:"next_cursor"`
}

// tweetJSON はAPIが返す投稿のワイヤ形式。
type tweetJSON struct {
	ID               string      `json:"id"`
	Text             string      `json:"text"`
	CreatedAt        string      `json:"createdAt"`
	LikeCount        int         `json:"likeCount"`
	RetweetCount     int         `json:"retweetCount"`
	IsReply          bool        `json:"isReply"`
	InReplyToUser    string      `json:"inReplyToUsername"`
	URL              string      `json:"url"`
	Author           *authorJSON `json:"author"`
	RetweetedTweet   *tweetJSON  `json:"retweeted_tweet"`
	QuotedTweet      *tweetJSON  `json:"quoted_tweet"`
}

type authorJSON struct {
	UserName string `json:"userName"`
	Name     string `json:"name"`
}

// SearchByWindow は時刻範囲検索で投稿を取得する。
// クエリは from:handle since:... until:... include:nativeretweets include:replies の形式。
// has_next_pageがfalseになるまでページを連結する。
func (s *APISource) SearchByWindow(ctx context.Context, handle string, window SearchWindow) ([]model.Post, error) {
	query := fmt.Sprintf("from:%s since:%s until:%s include:nativeretweets include:replies",
		handle,
		window.Since.UTC().Format(searchTimeLayout),
		window.Until.UTC().Format(searchTimeLayout),
	)

	var posts []model.Post
	cursor := ""

	for page := 0; page < maxSearchPages; page++ {
		params := url.Values{}
		params.Set("query", query)
		params.Set("queryType", "Latest")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := s.get(ctx, advancedSearchPath, params)
		if err != nil {
			return nil, fmt.Errorf("時刻範囲検索に失敗しました: %w", err)
		}

		for _, tw := range resp.Tweets {
			posts = append(posts, tw.toPost(handle))
		}

		if !resp.HasNextPage || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	s.logger.Info("時刻範囲検索が完了しました",
		slog.String("handle", handle),
		slog.Int("post_count", len(posts)),
	)
	return posts, nil
}

// RecentTimeline は直近タイムラインの投稿を新しい順で取得する。
func (s *APISource) RecentTimeline(ctx context.Context, handle string) ([]model.Post, error) {
	var posts []model.Post
	cursor := ""

	for page := 0; page < maxTimelinePages; page++ {
		params := url.Values{}
		params.Set("userName", handle)
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := s.get(ctx, recentTimelinePath, params)
		if err != nil {
			return nil, fmt.Errorf("タイムライン取得に失敗しました: %w", err)
		}

		// タイムラインAPIはdata配下にネストされる
		tweets := resp.Tweets
		hasNext := resp.HasNextPage
		next := resp.NextCursor
		if resp.Data != nil {
			tweets = resp.Data.Tweets
			hasNext = resp.Data.HasNextPage
			next = resp.Data.NextCursor
		}

		if len(tweets) == 0 {
			break
		}
		for _, tw := range tweets {
			posts = append(posts, tw.toPost(handle))
		}

		if !hasNext || next == "" {
			break
		}
		cursor = next
	}

	s.logger.Info("タイムライン取得が完了しました",
		slog.String("handle", handle),
		slog.Int("post_count", len(posts)),
	)
	return posts, nil
}

// ServerTime はレスポンスのDateヘッダからソース側の現在時刻を取得する。
// 取得できない場合はローカルクロックにフォールバックする。
func (s *APISource) ServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("サーバー時刻の取得に失敗したためローカルクロックを使用します",
			slog.String("error", err.Error()),
		)
		return time.Now().UTC(), nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return time.Now().UTC(), nil
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return time.Now().UTC(), nil
	}
	return serverTime.UTC(), nil
}

// get はレートリミッターを通してGETリクエストを実行し、レスポンスをデコードする。
func (s *APISource) get(ctx context.Context, path string, params url.Values) (*searchResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ソースAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if decoded.Status == "error" {
		return nil, fmt.Errorf("ソースAPIがエラーを返しました: %s", decoded.Msg)
	}

	return &decoded, nil
}

// toPost はワイヤ形式をドメインモデルに変換する。
// accountHandleはどの監視アカウントのフェッチで取得されたかを記録する。
func (t *tweetJSON) toPost(accountHandle string) model.Post {
	post := model.Post{
		ID:            t.ID,
		AccountHandle: accountHandle,
		Text:          t.Text,
		Likes:         t.LikeCount,
		Reshares:      t.RetweetCount,
		Kind:          model.PostKindOriginal,
		Permalink:     t.URL,
	}

	if t.Author != nil {
		post.AuthorHandle = t.Author.UserName
		post.AuthorName = t.Author.Name
	}

	if created, err := parseCreatedAt(t.CreatedAt); err == nil {
		post.CreatedAt = created
	}

	// 種別判定: リポスト > 引用 > リプライ > オリジナル
	switch {
	case t.RetweetedTweet != nil:
		post.Kind = model.PostKindReshare
		post.RefText = t.RetweetedTweet.Text
		if t.RetweetedTweet.Author != nil {
			post.RefAuthorHandle = t.RetweetedTweet.Author.UserName
		}
	case t.QuotedTweet != nil:
		post.Kind = model.PostKindQuote
		post.RefText = t.QuotedTweet.Text
		if t.QuotedTweet.Author != nil {
			post.RefAuthorHandle = t.QuotedTweet.Author.UserName
		}
	case t.IsReply:
		post.Kind = model.PostKindReply
		post.ReplyToHandle = t.InReplyToUser
	}

	return post
}

// parseCreatedAt は投稿時刻をパースする。
// APIはRubyDate形式（"Mon Jan 02 15:04:05 -0700 2006"）を返すが、
// RFC3339のソースにも対応する。
func parseCreatedAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RubyDate, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// compile-time interface check
var _ PostSource = (*APISource)(nil)
