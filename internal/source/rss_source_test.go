package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/security"
)

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
<title>tradergirl / @tradergirl</title>
<item>
<title>$NVDA just broke resistance</title>
<dc:creator>@tradergirl</dc:creator>
<description>&lt;p&gt;$NVDA just broke resistance&lt;/p&gt;&lt;script&gt;alert(1)&lt;/script&gt;</description>
<pubDate>Mon, 25 Aug 2025 14:30:00 GMT</pubDate>
<link>https://mirror.example.com/tradergirl/status/1850000000000000003#m</link>
</item>
<item>
<title>RT by @tradergirl: markets are wild</title>
<dc:creator>@someoneelse</dc:creator>
<description>markets are wild</description>
<pubDate>Mon, 25 Aug 2025 14:00:00 GMT</pubDate>
<link>https://mirror.example.com/someoneelse/status/1850000000000000002#m</link>
</item>
<item>
<title>R to @friend: agreed on the macro view</title>
<dc:creator>@tradergirl</dc:creator>
<description>agreed on the macro view</description>
<pubDate>Mon, 25 Aug 2025 13:00:00 GMT</pubDate>
<link>https://mirror.example.com/tradergirl/status/1850000000000000001#m</link>
</item>
</channel>
</rss>`

func newTestRSSSource(t *testing.T) (*RSSSource, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tradergirl/rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testFeedXML)
	}))
	t.Cleanup(server.Close)

	src := NewRSSSource(server.Client(), testLogger(), security.NewPostSanitizer(), server.URL, 6000)
	return src, server
}

func TestRSSSource_SearchByWindow_Unsupported(t *testing.T) {
	src, _ := newTestRSSSource(t)

	_, err := src.SearchByWindow(context.Background(), "tradergirl", SearchWindow{})
	if !errors.Is(err, ErrWindowUnsupported) {
		t.Fatalf("err = %v, want ErrWindowUnsupported", err)
	}
}

func TestRSSSource_RecentTimeline_ParsesFeed(t *testing.T) {
	src, _ := newTestRSSSource(t)

	posts, err := src.RecentTimeline(context.Background(), "tradergirl")
	if err != nil {
		t.Fatalf("RecentTimelineが失敗: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("投稿数 = %d, want 3", len(posts))
	}

	t.Run("IDがパーマリンクから抽出される", func(t *testing.T) {
		if posts[0].ID != "1850000000000000003" {
			t.Errorf("ID = %q, want %q", posts[0].ID, "1850000000000000003")
		}
	})

	t.Run("新しい順に並んでいる", func(t *testing.T) {
		if !model.PostIDLess(posts[1].ID, posts[0].ID) {
			t.Errorf("順序が不正: %q の次に %q", posts[0].ID, posts[1].ID)
		}
	})

	t.Run("HTMLがプレーンテキスト化される", func(t *testing.T) {
		if strings.Contains(posts[0].Text, "<") || strings.Contains(posts[0].Text, "alert") {
			t.Errorf("HTMLが残存しています: %q", posts[0].Text)
		}
		if !strings.Contains(posts[0].Text, "$NVDA just broke resistance") {
			t.Errorf("本文が失われました: %q", posts[0].Text)
		}
	})

	t.Run("リポストが判定される", func(t *testing.T) {
		if posts[1].Kind != model.PostKindReshare {
			t.Errorf("Kind = %q, want %q", posts[1].Kind, model.PostKindReshare)
		}
		if posts[1].AuthorHandle != "someoneelse" {
			t.Errorf("AuthorHandle = %q, want %q", posts[1].AuthorHandle, "someoneelse")
		}
	})

	t.Run("リプライが判定される", func(t *testing.T) {
		if posts[2].Kind != model.PostKindReply {
			t.Errorf("Kind = %q, want %q", posts[2].Kind, model.PostKindReply)
		}
		if posts[2].ReplyToHandle != "friend" {
			t.Errorf("ReplyToHandle = %q, want %q", posts[2].ReplyToHandle, "friend")
		}
	})

	t.Run("監視アカウントのハンドルが記録される", func(t *testing.T) {
		for _, p := range posts {
			if p.AccountHandle != "tradergirl" {
				t.Errorf("AccountHandle = %q, want %q", p.AccountHandle, "tradergirl")
			}
		}
	})
}

func TestRSSSource_RecentTimeline_HTTPError(t *testing.T) {
	src, _ := newTestRSSSource(t)

	_, err := src.RecentTimeline(context.Background(), "unknownaccount")
	if err == nil {
		t.Fatal("存在しないフィードでエラーが返るべきです")
	}
}

func TestPostIDFromLink(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{link: "https://mirror.example.com/acct/status/123456#m", want: "123456"},
		{link: "https://mirror.example.com/acct/status/123456", want: "123456"},
		{link: "123456", want: "123456"},
	}

	for _, tt := range tests {
		if got := postIDFromLink(tt.link); got != tt.want {
			t.Errorf("postIDFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestReplyTargetFromTitle(t *testing.T) {
	if got := replyTargetFromTitle("R to @friend: agreed"); got != "friend" {
		t.Errorf("replyTargetFromTitle = %q, want %q", got, "friend")
	}
}
