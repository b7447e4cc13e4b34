package source

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/marketbrief/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestAPISource_SearchByWindow_QueryFormat(t *testing.T) {
	var gotQuery string
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotAPIKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(map[string]any{
			"tweets":        []any{},
			"has_next_page": false,
		})
	}))
	defer server.Close()

	src := NewAPISource(server.Client(), testLogger(), server.URL, "test-key", 6000)

	window := SearchWindow{
		Since: time.Date(2025, 8, 25, 14, 0, 0, 0, time.UTC),
		Until: time.Date(2025, 8, 25, 14, 30, 0, 0, time.UTC),
	}
	_, err := src.SearchByWindow(context.Background(), "elonmusk", window)
	if err != nil {
		t.Fatalf("SearchByWindowが失敗: %v", err)
	}

	wantQuery := "from:elonmusk since:2025-08-25_14:00:00_UTC until:2025-08-25_14:30:00_UTC include:nativeretweets include:replies"
	if gotQuery != wantQuery {
		t.Errorf("query = %q, want %q", gotQuery, wantQuery)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("X-API-Key = %q, want %q", gotAPIKey, "test-key")
	}
}

func TestAPISource_SearchByWindow_ConcatenatesPages(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			if r.URL.Query().Get("cursor") != "" {
				t.Errorf("1ページ目にカーソルが付与されています: %q", r.URL.Query().Get("cursor"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"tweets":        []map[string]any{{"id": "300", "text": "third"}, {"id": "200", "text": "second"}},
				"has_next_page": true,
				"next_cursor":   "cursor-2",
			})
		default:
			if got := r.URL.Query().Get("cursor"); got != "cursor-2" {
				t.Errorf("2ページ目のカーソル = %q, want %q", got, "cursor-2")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"tweets":        []map[string]any{{"id": "100", "text": "first"}},
				"has_next_page": false,
			})
		}
	}))
	defer server.Close()

	src := NewAPISource(server.Client(), testLogger(), server.URL, "k", 6000)

	posts, err := src.SearchByWindow(context.Background(), "acct", SearchWindow{Since: time.Now().Add(-time.Hour), Until: time.Now()})
	if err != nil {
		t.Fatalf("SearchByWindowが失敗: %v", err)
	}

	if len(posts) != 3 {
		t.Fatalf("全ページが連結されていません: got %d posts, want 3", len(posts))
	}
	if posts[0].ID != "300" || posts[2].ID != "100" {
		t.Errorf("投稿の順序が不正: %v", []string{posts[0].ID, posts[1].ID, posts[2].ID})
	}
}

func TestAPISource_RecentTimeline_NestedData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "k" {
			t.Errorf("X-API-Key = %q, want %q", got, "k")
		}
		if got := r.URL.Query().Get("userName"); got != "chamath" {
			t.Errorf("userName = %q, want %q", got, "chamath")
		}
		// タイムラインAPIはdata配下にネストする
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"tweets": []map[string]any{
					{
						"id":           "1850000000000000002",
						"text":         "newest post",
						"createdAt":    "Mon Aug 25 14:00:00 +0000 2025",
						"likeCount":    120,
						"retweetCount": 30,
						"author":       map[string]any{"userName": "chamath", "name": "Chamath Palihapitiya"},
					},
					{
						"id":   "1850000000000000001",
						"text": "older post",
					},
				},
				"has_next_page": false,
			},
		})
	}))
	defer server.Close()

	src := NewAPISource(server.Client(), testLogger(), server.URL, "k", 6000)

	posts, err := src.RecentTimeline(context.Background(), "chamath")
	if err != nil {
		t.Fatalf("RecentTimelineが失敗: %v", err)
	}

	if len(posts) != 2 {
		t.Fatalf("投稿数 = %d, want 2", len(posts))
	}
	first := posts[0]
	if first.ID != "1850000000000000002" {
		t.Errorf("ID = %q, want %q", first.ID, "1850000000000000002")
	}
	if first.Likes != 120 || first.Reshares != 30 {
		t.Errorf("engagement = (%d, %d), want (120, 30)", first.Likes, first.Reshares)
	}
	if first.AuthorName != "Chamath Palihapitiya" {
		t.Errorf("AuthorName = %q, want %q", first.AuthorName, "Chamath Palihapitiya")
	}
	wantTime := time.Date(2025, 8, 25, 14, 0, 0, 0, time.UTC)
	if !first.CreatedAt.Equal(wantTime) {
		t.Errorf("CreatedAt = %v, want %v", first.CreatedAt, wantTime)
	}
}

func TestAPISource_ErrorStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "error",
			"msg":    "rate limit exceeded",
		})
	}))
	defer server.Close()

	src := NewAPISource(server.Client(), testLogger(), server.URL, "k", 6000)

	_, err := src.RecentTimeline(context.Background(), "acct")
	if err == nil {
		t.Fatal("APIエラー時にエラーが返るべきです")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("エラーメッセージにAPIのmsgが含まれていません: %v", err)
	}
}

func TestAPISource_HTTPError_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewAPISource(server.Client(), testLogger(), server.URL, "k", 6000)

	_, err := src.SearchByWindow(context.Background(), "acct", SearchWindow{Since: time.Now().Add(-time.Hour), Until: time.Now()})
	if err == nil {
		t.Fatal("HTTPエラー時にエラーが返るべきです")
	}
}

// レートリミッターにより2回目以降のリクエストが待機することを検証する。
func TestAPISource_RatePacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tweets": []any{}, "has_next_page": false})
	}))
	defer server.Close()

	// 600 req/min = 100ms間隔
	src := NewAPISource(server.Client(), testLogger(), server.URL, "k", 600)

	ctx := context.Background()
	window := SearchWindow{Since: time.Now().Add(-time.Hour), Until: time.Now()}

	if _, err := src.SearchByWindow(ctx, "a", window); err != nil {
		t.Fatalf("1回目のフェッチに失敗: %v", err)
	}

	start := time.Now()
	if _, err := src.SearchByWindow(ctx, "b", window); err != nil {
		t.Fatalf("2回目のフェッチに失敗: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("2回目のフェッチが待機していません: elapsed=%v", elapsed)
	}
}

func TestTweetJSON_ToPost_Kinds(t *testing.T) {
	tests := []struct {
		name string
		tw   tweetJSON
		want model.PostKind
	}{
		{name: "オリジナル", tw: tweetJSON{ID: "1", Text: "hello"}, want: model.PostKindOriginal},
		{name: "リポスト", tw: tweetJSON{ID: "2", RetweetedTweet: &tweetJSON{Text: "src", Author: &authorJSON{UserName: "orig"}}}, want: model.PostKindReshare},
		{name: "引用", tw: tweetJSON{ID: "3", Text: "my take", QuotedTweet: &tweetJSON{Text: "quoted", Author: &authorJSON{UserName: "qa"}}}, want: model.PostKindQuote},
		{name: "リプライ", tw: tweetJSON{ID: "4", Text: "reply", IsReply: true, InReplyToUser: "someone"}, want: model.PostKindReply},
		{name: "リポストは引用より優先", tw: tweetJSON{ID: "5", RetweetedTweet: &tweetJSON{}, QuotedTweet: &tweetJSON{}}, want: model.PostKindReshare},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := tt.tw.toPost("acct")
			if post.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", post.Kind, tt.want)
			}
			if post.AccountHandle != "acct" {
				t.Errorf("AccountHandle = %q, want %q", post.AccountHandle, "acct")
			}
		})
	}

	t.Run("リプライ先が記録される", func(t *testing.T) {
		post := (&tweetJSON{ID: "4", IsReply: true, InReplyToUser: "someone"}).toPost("acct")
		if post.ReplyToHandle != "someone" {
			t.Errorf("ReplyToHandle = %q, want %q", post.ReplyToHandle, "someone")
		}
	})

	t.Run("リポスト元の本文と投稿者が記録される", func(t *testing.T) {
		post := (&tweetJSON{ID: "2", RetweetedTweet: &tweetJSON{Text: "src", Author: &authorJSON{UserName: "orig"}}}).toPost("acct")
		if post.RefText != "src" || post.RefAuthorHandle != "orig" {
			t.Errorf("Ref = (%q, %q), want (%q, %q)", post.RefText, post.RefAuthorHandle, "src", "orig")
		}
	})
}

func TestParseCreatedAt(t *testing.T) {
	t.Run("RubyDate形式", func(t *testing.T) {
		got, err := parseCreatedAt("Mon Aug 25 14:00:00 +0000 2025")
		if err != nil {
			t.Fatalf("パースに失敗: %v", err)
		}
		want := time.Date(2025, 8, 25, 14, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("RFC3339形式", func(t *testing.T) {
		got, err := parseCreatedAt("2025-08-25T14:00:00Z")
		if err != nil {
			t.Fatalf("パースに失敗: %v", err)
		}
		want := time.Date(2025, 8, 25, 14, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("不正な形式はエラー", func(t *testing.T) {
		if _, err := parseCreatedAt("not a date"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}
