// Package summarizer は投稿からのサマリー生成を提供する。
// OpenAI互換のchat completions APIを使用し、NewsとTradesの
// 2セクションを並行生成して結合する。
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/marketbrief/internal/model"
)

// Service はサマリー生成のインターフェース。
type Service interface {
	// Summarize は新着投稿からサマリーを生成する。
	// priorは文脈として使用する前回サマリー（空可）。
	// tickerHintsは投稿本文から事前抽出したティッカー。
	Summarize(ctx context.Context, prior string, posts []model.Post, handles []string, tickerHints []string) (string, error)
}

const systemPrompt = "You are a financial analyst specializing in extracting actionable insights from social media posts."

// OpenAIClient はOpenAI互換APIを使用するサマリー生成クライアント。
type OpenAIClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIClient はOpenAIClientの新しいインスタンスを生成する。
func NewOpenAIClient(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

// chatRequest / chatResponse はchat completions APIのワイヤ形式。
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize はNewsとTradesの2セクションを並行生成して結合する。
// どちらかのセクション生成が失敗した場合はエラーを返す（サイクル失敗扱い）。
func (c *OpenAIClient) Summarize(ctx context.Context, prior string, posts []model.Post, handles []string, tickerHints []string) (string, error) {
	common := buildCommonContext(prior, posts, handles, tickerHints)

	type sectionResult struct {
		name string
		text string
		err  error
	}

	results := make(chan sectionResult, 2)
	for _, section := range []struct{ name, prompt string }{
		{"News", buildNewsPrompt(common)},
		{"Trades", buildTradesPrompt(common)},
	} {
		go func(name, prompt string) {
			text, err := c.complete(ctx, prompt)
			results <- sectionResult{name: name, text: text, err: err}
		}(section.name, section.prompt)
	}

	sections := make(map[string]string, 2)
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			return "", fmt.Errorf("%sセクションの生成に失敗しました: %w", r.name, r.err)
		}
		sections[r.name] = strings.TrimSpace(r.text)
	}

	combined := combineSections(sections["News"], sections["Trades"])
	cleaned := CleanSummary(combined)

	c.logger.Info("サマリー生成が完了しました",
		slog.Int("post_count", len(posts)),
		slog.Int("summary_length", len(cleaned)),
	)
	return cleaned, nil
}

// combineSections はNewsとTradesを結合する。
// 両セクションとも空（ヘッダのみ）の場合は定型文を返す。
func combineSections(news, trades string) string {
	var b strings.Builder
	if news != "" && news != "## News" {
		b.WriteString(news)
		b.WriteString("\n\n")
	}
	if trades != "" && trades != "## Trades" {
		b.WriteString(trades)
	}

	combined := strings.TrimSpace(b.String())
	if combined == "" {
		return "## News\n\n*No new insights found in recent posts.*\n\n## Trades\n\n*No specific trades mentioned in recent posts.*"
	}
	return combined
}

// complete はchat completions APIを1回呼び出す。
func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	}

	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("サマライザーAPIがステータス %d を返しました: %s", resp.StatusCode, truncateForLog(body))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if decoded.Error != nil {
		return "", fmt.Errorf("サマライザーAPIがエラーを返しました: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("サマライザーAPIがchoicesを返しませんでした")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" && decoded.Choices[0].FinishReason == "length" {
		return "", fmt.Errorf("サマライザーAPIのレスポンスがmax_tokensで打ち切られました")
	}

	return content, nil
}

func truncateForLog(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// buildCommonContext は両セクション共通のプロンプト前半を構築する。
func buildCommonContext(prior string, posts []model.Post, handles []string, tickerHints []string) string {
	var handleList []string
	for _, h := range handles {
		handleList = append(handleList, "@"+h)
	}

	postsText := FormatPosts(posts)
	if postsText == "" {
		postsText = "No new posts."
	}

	var b strings.Builder
	b.WriteString("You are a financial analyst creating actionable market intelligence summaries from social media posts.\n\n")
	fmt.Fprintf(&b, "Monitored Accounts: %s\n\n", strings.Join(handleList, ", "))
	if prior != "" {
		fmt.Fprintf(&b, "Previous Summary (for context only, do not repeat):\n%s\n\n", prior)
	}
	fmt.Fprintf(&b, "New Posts (each post includes [TWEET_URL:url] at the end - use this URL for source tags):\n%s\n\n", postsText)
	if len(tickerHints) > 0 {
		fmt.Fprintf(&b, "Tickers mentioned in the posts above: %s\n\n", strings.Join(tickerHints, ", "))
	}
	b.WriteString(`For RETWEETS: Extract the key insight from the original post. Focus on:
- The main argument or thesis
- Actionable takeaways (buy/sell signals, price targets, reasoning)
- Key facts and data points

For TICKERS ($SYMBOL): When a ticker is mentioned in posts:
- CRITICAL: ALWAYS use the EXACT ticker symbol as it appears in the posts (e.g., $NVDA, $LITE, $COHR, $GOOG)
- ABSOLUTELY FORBIDDEN: Do NOT use placeholders like $1, $2, $SYMBOL, or any generic references
- Extract ticker symbols directly from the post text above - use them exactly as written

CRITICAL INSTRUCTIONS:
1. Do NOT mention "no new updates", "no new posts", "prior insights remain unchanged", or any similar phrases indicating lack of updates.
2. Extract ticker symbols directly from the posts - use them exactly as they appear. Do NOT use placeholders.
3. Only include information from the new posts provided. If there are no new insights, omit the section entirely rather than saying "no updates".
`)
	return b.String()
}

func buildNewsPrompt(common string) string {
	return common + `
Your task: Generate ONLY the News section from the posts above.

Focus on:
- Market insights and analysis (NOT specific trade actions)
- Key market events or catalysts
- Price targets or valuation insights
- Risk factors or concerns
- Market sentiment and trends
- CRITICAL: When multiple posts discuss the same ticker, company, or related theme, COMBINE them into a single news item.
- CRITICAL: Headline format - concise news-style headlines (8-12 words). Save detailed facts, numbers, and reasoning for the content after the colon.

Format your response as:

## News
- Format: **Headline (8-12 words)**: Detailed explanation with specific facts, numbers, price targets, percentages, reasoning, and context
- Use bold (**text**) for tickers in headlines and content
- At the end of each insight, add source tags: [Source: @handle](post_url) for ALL posts that contributed

If there are no news insights in the posts, respond with only: "## News" (no content).`
}

func buildTradesPrompt(common string) string {
	return common + `
Your task: Generate ONLY the Trades section from the posts above.

CRITICAL REQUIREMENTS:
- ONLY include concrete, specific trade actions explicitly mentioned in posts
- Include ONLY actual trades: buy/sell orders, options positions, specific entry/exit prices, position sizes, strike prices, expiration dates
- EVERY trade entry MUST include the trade description, details (entry, target, stop, strikes, expiration, size), reasoning if mentioned, results if shared, and a source tag [Source: @handle](post_url)
- Be fact-checked: Only include trades explicitly mentioned - do NOT infer or assume

Format your response as:

## Trades
- List each trade as: **Trade Description**: Detailed explanation with all specifics. [Source: @handle](url)

If NO specific trades are mentioned in the posts, respond with only: "## Trades" (no content).`
}

// compile-time interface check
var _ Service = (*OpenAIClient)(nil)
