package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketbrief/internal/config"
	"github.com/hitoshi/marketbrief/internal/database"
	"github.com/hitoshi/marketbrief/internal/handler"
	"github.com/hitoshi/marketbrief/internal/logger"
	"github.com/hitoshi/marketbrief/internal/metrics"
	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/repository"
	"github.com/hitoshi/marketbrief/internal/security"
	"github.com/hitoshi/marketbrief/internal/source"
	"github.com/hitoshi/marketbrief/internal/summarizer"
	"github.com/hitoshi/marketbrief/internal/worker/brief"
	"github.com/hitoshi/marketbrief/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("source_kind", cfg.SourceKind),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はアプリケーション本体を起動する。
// スケジューラと運用APIサーバーは同一プロセスで動作する（運用APIが
// スケジューラの制御面であるため）。SIGINTまたはSIGTERMシグナルを
// 受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	summaryRepo := repository.NewPostgresSummaryRepo(db)
	cycleLogRepo := repository.NewPostgresCycleLogRepo(db)
	stateRepo := repository.NewPostgresSchedulerStateRepo(db)

	// 3. 投稿ソースの初期化（SSRF防止付きHTTPクライアントを使用）
	ssrfGuard := security.NewSSRFGuard()
	sourceClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize)

	var postSource source.PostSource
	switch cfg.SourceKind {
	case "rss":
		sanitizer := security.NewPostSanitizer()
		postSource = source.NewRSSSource(
			sourceClient, slog.Default(), sanitizer,
			cfg.SourceBaseURL, cfg.SourceRateLimit,
		)
	default:
		postSource = source.NewAPISource(
			sourceClient, slog.Default(),
			cfg.SourceBaseURL, cfg.SourceAPIKey, cfg.SourceRateLimit,
		)
	}

	// 4. サマライザーの初期化
	summarizerClient := summarizer.NewOpenAIClient(
		&http.Client{Timeout: cfg.SummarizeTimeout},
		slog.Default(),
		cfg.SummarizerBaseURL, cfg.SummarizerAPIKey, cfg.SummarizerModel,
	)

	// 5. スケジューラManagerの構築
	coordinator := brief.NewCoordinator(postSource, slog.Default())
	manager := brief.NewManager(
		accountRepo, summaryRepo, cycleLogRepo, stateRepo,
		coordinator, summarizerClient,
		slog.Default(), cfg.Scheduler,
		cfg.FetchTimeout, cfg.SummarizeTimeout,
	)

	// 6. メトリクスの初期化
	registry := prometheus.NewRegistry()
	manager.SetMetrics(metrics.NewCollector(registry))

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitOps))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:       slog.Default(),
		AdminToken:   cfg.AdminToken,
		RateLimiter:  rateLimiter,
		Manager:      manager,
		AccountRepo:  accountRepo,
		SummaryRepo:  summaryRepo,
		CycleLogRepo: cycleLogRepo,
		Gatherer:     registry,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// スケジューラをバックグラウンドで起動
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		manager.Start(ctx)
	}()

	// サイクルログのクリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// スケジューラを停止してからAPIサーバーを閉じる
	cancel()
	select {
	case <-schedulerDone:
	case <-time.After(30 * time.Second):
		slog.Warn("scheduler did not stop within timeout")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
