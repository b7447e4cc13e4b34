package summarizer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/marketbrief/internal/model"
)

// FormatPosts は投稿を種別タグ付きのテキストに整形する。
// 各投稿の末尾に [TWEET_URL:url] を付与し、LLMがソースタグに使用できるようにする。
func FormatPosts(posts []model.Post) string {
	var formatted []string

	for _, p := range posts {
		handle := p.AuthorHandle
		if handle == "" {
			handle = p.AccountHandle
		}
		engagement := fmt.Sprintf("(Likes: %d, RTs: %d)", p.Likes, p.Reshares)

		var line string
		switch p.Kind {
		case model.PostKindReshare:
			if p.RefText != "" {
				line = fmt.Sprintf("[RETWEET] @%s retweeted @%s: %s %s [TWEET_URL:%s]",
					handle, p.RefAuthorHandle, p.RefText, engagement, p.Permalink)
			} else {
				line = fmt.Sprintf("[RETWEET] @%s: %s %s [TWEET_URL:%s]",
					handle, p.Text, engagement, p.Permalink)
			}
		case model.PostKindQuote:
			if p.RefText != "" {
				quoted := p.RefText
				if len(quoted) > 200 {
					quoted = quoted[:200] + "..."
				}
				line = fmt.Sprintf("[QUOTE] @%s: %s | Quoted @%s: %s %s [TWEET_URL:%s]",
					handle, p.Text, p.RefAuthorHandle, quoted, engagement, p.Permalink)
			} else {
				line = fmt.Sprintf("[QUOTE] @%s: %s %s [TWEET_URL:%s]",
					handle, p.Text, engagement, p.Permalink)
			}
		case model.PostKindReply:
			line = fmt.Sprintf("[REPLY] @%s replying to @%s: %s %s [TWEET_URL:%s]",
				handle, p.ReplyToHandle, p.Text, engagement, p.Permalink)
		default:
			line = fmt.Sprintf("[ORIGINAL] @%s: %s %s [TWEET_URL:%s]",
				handle, p.Text, engagement, p.Permalink)
		}
		formatted = append(formatted, line)
	}

	return strings.Join(formatted, "\n\n")
}

// tickerPattern は$に続く1〜5文字の大文字を抽出する。
var tickerPattern = regexp.MustCompile(`\$[A-Z]{1,5}\b`)

// tickerPlaceholders はLLMが出力しがちなプレースホルダー。実在ティッカーではない。
var tickerPlaceholders = map[string]bool{
	"$1": true, "$2": true, "$3": true, "$4": true, "$5": true,
	"$SYMBOL": true, "$SYMBO": true,
}

// ExtractTickers はテキストから$SYMBOL形式のティッカーを重複なしで抽出する。
// プレースホルダーは除外する。結果はソート済み。
func ExtractTickers(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	var tickers []string
	for _, t := range tickerPattern.FindAllString(text, -1) {
		if tickerPlaceholders[t] || seen[t] {
			continue
		}
		seen[t] = true
		tickers = append(tickers, t)
	}

	sort.Strings(tickers)
	return tickers
}

// 「新着なし」系のフィラー行を検出するパターン。
var (
	marketContextPattern = regexp.MustCompile(`(?s)## Market Context\s*\n.*?(\n## |$)`)
	noUpdatesPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^-?\s*\*\*No New Updates?\*\*:.*\n?`),
		regexp.MustCompile(`(?im)^-?\s*No new tweets? from.*\n?`),
		regexp.MustCompile(`(?im)^-?\s*No New Updates?:.*\n?`),
	}
	accountPrefixPattern = regexp.MustCompile(`(?m)^@\w+:\s*`)
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)
)

// CleanSummary はサマリーからフィラーを除去する。
// 「新着なし」系の行、Market Contextセクション、行頭のアカウントプレフィックスを
// 取り除き、連続する空行をまとめる。
func CleanSummary(summary string) string {
	cleaned := marketContextPattern.ReplaceAllString(summary, "$1")
	for _, p := range noUpdatesPatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}
	cleaned = accountPrefixPattern.ReplaceAllString(cleaned, "")
	cleaned = blankLinesPattern.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
