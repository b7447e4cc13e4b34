package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/marketbrief/internal/metrics"
	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	AdminToken  string
	RateLimiter *middleware.RateLimiter

	// スケジューラ
	Manager SchedulerManagerInterface

	// リポジトリ
	AccountRepo  repository.AccountRepository
	SummaryRepo  repository.SummaryRepository
	CycleLogRepo repository.CycleLogRepository

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → RateLimit → AdminAuth（/api配下のみ）
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	schedulerHandler := NewSchedulerHandler(deps.Manager, deps.CycleLogRepo)
	accountHandler := NewAccountHandler(deps.AccountRepo)
	summaryHandler := NewSummaryHandler(deps.SummaryRepo)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 管理トークンが必要なルート ---
	// ミドルウェアスタック: RateLimit → AdminAuth
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))

		// スケジューラ運用
		r.Route("/api/scheduler", func(r chi.Router) {
			r.Get("/status", schedulerHandler.GetStatus)
			r.Post("/pause", schedulerHandler.Pause)
			r.Post("/resume", schedulerHandler.Resume)
			r.Post("/trigger", schedulerHandler.Trigger)
			r.Get("/logs", schedulerHandler.ListLogs)
			r.Get("/config", schedulerHandler.GetConfig)
			r.Put("/config", schedulerHandler.UpdateConfig)
		})

		// アカウント管理
		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)
			r.Post("/", accountHandler.CreateAccount)
			r.Delete("/{handle}", accountHandler.DeleteAccount)
		})

		// サマリー閲覧
		r.Route("/api/summaries", func(r chi.Router) {
			r.Get("/", summaryHandler.ListSummaries)
			r.Get("/latest", summaryHandler.GetLatest)
		})
	})

	return r
}
