// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Post Source
	SourceKind      string // "api"（JSON API）または "rss"（RSSミラー）
	SourceBaseURL   string
	SourceAPIKey    string
	SourceRateLimit int // ソースAPIへのリクエストレート（req/min）

	// Summarizer
	SummarizerBaseURL string
	SummarizerAPIKey  string
	SummarizerModel   string

	// Timeouts
	FetchTimeout     time.Duration
	SummarizeTimeout time.Duration
	FetchMaxSize     int64

	// Operational API
	ServerPort   string
	AdminToken   string
	RateLimitOps int // 運用API全般のレート（req/min）

	// Scheduler（起動時のデフォルト。運用APIから実行中に変更可能）
	Scheduler SchedulerConfig
}

// SchedulerConfig はスケジューラの動作設定を保持する。
// 運用APIのGET/PUT /api/scheduler/configで実行中に読み書きされる。
type SchedulerConfig struct {
	// Enabled がfalseの場合、ワーカーは起動してもトリガーを登録しない。
	Enabled bool

	// Timezone はカレンダー計算に使用するタイムゾーン名（例: "America/New_York"）。
	Timezone string

	// MarketStart / MarketEnd は市場時間の開始・終了（"HH:MM"、Timezoneのローカル時刻）。
	MarketStart string
	MarketEnd   string
	// MarketIntervalMinutes は市場時間中のフェッチ間隔（分）。
	MarketIntervalMinutes int

	// AfterMarketTimes は市場時間外の定時実行時刻（"HH:MM"のリスト）。
	AfterMarketEnabled bool
	AfterMarketTimes   []string

	// WeekendTime は週末の1日1回実行時刻（"HH:MM"）。
	WeekendEnabled bool
	WeekendTime    string

	// MaxPostsTotal はサマリーに渡す投稿数の上限。
	MaxPostsTotal int

	// AccountDelay はアカウント間フェッチの最低間隔。
	// ソースのレート制限を尊重するための意図的なスループット上限。
	AccountDelay time.Duration

	// RetryMaxAttempts / RetryBackoff はサイクル失敗時のリトライ設定。
	// 遅延は RetryBackoff * 2^(attempt-1) で増加する。
	RetryMaxAttempts int
	RetryBackoff     time.Duration

	// TickInterval はトリガー評価のティック粒度。
	TickInterval time.Duration

	// Paused は一時停止状態で起動するかどうか（再起動をまたいで保持される）。
	Paused bool
}

// DefaultSchedulerConfig はスケジューラのデフォルト設定を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:               true,
		Timezone:              "America/New_York",
		MarketStart:           "09:30",
		MarketEnd:             "16:00",
		MarketIntervalMinutes: 30,
		AfterMarketEnabled:    true,
		AfterMarketTimes:      []string{"20:00", "06:00"},
		WeekendEnabled:        true,
		WeekendTime:           "20:00",
		MaxPostsTotal:         35,
		AccountDelay:          6 * time.Second,
		RetryMaxAttempts:      3,
		RetryBackoff:          60 * time.Second,
		TickInterval:          30 * time.Second,
	}
}

// Validate は設定値の整合性を検証する。
// 時刻形式の誤り等は読み込み時に1回だけ検出し、該当ケイデンスを無効化するために使用する。
func (sc *SchedulerConfig) Validate() error {
	if _, err := time.LoadLocation(sc.Timezone); err != nil {
		return fmt.Errorf("タイムゾーンが不正です: %w", err)
	}
	for _, v := range []struct{ name, val string }{
		{"market_start", sc.MarketStart},
		{"market_end", sc.MarketEnd},
		{"weekend_time", sc.WeekendTime},
	} {
		if _, _, err := ParseClock(v.val); err != nil {
			return fmt.Errorf("%s の時刻形式が不正です: %w", v.name, err)
		}
	}
	for _, ts := range sc.AfterMarketTimes {
		if _, _, err := ParseClock(ts); err != nil {
			return fmt.Errorf("after_market_times の時刻形式が不正です: %w", err)
		}
	}
	if sc.MarketIntervalMinutes <= 0 {
		return fmt.Errorf("market_interval_minutes は1以上である必要があります: %d", sc.MarketIntervalMinutes)
	}
	if sc.MaxPostsTotal <= 0 {
		return fmt.Errorf("max_posts_total は1以上である必要があります: %d", sc.MaxPostsTotal)
	}
	if sc.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts は1以上である必要があります: %d", sc.RetryMaxAttempts)
	}
	return nil
}

// ParseClock は"HH:MM"形式の時刻文字列を時・分に分解する。
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("\"HH:MM\"形式ではありません: %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("時の値が不正です: %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("分の値が不正です: %q", s)
	}
	return hour, minute, nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SourceKind = getEnvString("SOURCE_KIND", "api")
	cfg.SourceBaseURL = getEnvString("SOURCE_BASE_URL", "https://api.twitterapi.io")
	cfg.SourceAPIKey = getEnvString("SOURCE_API_KEY", "")
	cfg.SourceRateLimit = getEnvInt("SOURCE_RATE_LIMIT", 60)
	cfg.SummarizerBaseURL = getEnvString("SUMMARIZER_BASE_URL", "https://api.openai.com/v1")
	cfg.SummarizerAPIKey = getEnvString("SUMMARIZER_API_KEY", "")
	cfg.SummarizerModel = getEnvString("SUMMARIZER_MODEL", "grok-4-fast")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.SummarizeTimeout = getEnvDuration("SUMMARIZE_TIMEOUT", 120*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RateLimitOps = getEnvInt("RATE_LIMIT_OPS", 120)

	sc := DefaultSchedulerConfig()
	sc.Enabled = getEnvBool("SCHEDULER_ENABLED", sc.Enabled)
	sc.Timezone = getEnvString("SCHEDULER_TIMEZONE", sc.Timezone)
	sc.MarketStart = getEnvString("MARKET_START", sc.MarketStart)
	sc.MarketEnd = getEnvString("MARKET_END", sc.MarketEnd)
	sc.MarketIntervalMinutes = getEnvInt("MARKET_INTERVAL_MINUTES", sc.MarketIntervalMinutes)
	sc.MaxPostsTotal = getEnvInt("MAX_POSTS_TOTAL", sc.MaxPostsTotal)
	sc.AccountDelay = getEnvDuration("ACCOUNT_DELAY", sc.AccountDelay)
	sc.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", sc.RetryMaxAttempts)
	sc.RetryBackoff = getEnvDuration("RETRY_BACKOFF", sc.RetryBackoff)
	sc.TickInterval = getEnvDuration("SCHEDULER_TICK_INTERVAL", sc.TickInterval)
	cfg.Scheduler = sc

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
