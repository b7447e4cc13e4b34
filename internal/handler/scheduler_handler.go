// Package handler は運用APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/marketbrief/internal/config"
	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/repository"
	"github.com/hitoshi/marketbrief/internal/worker/brief"
)

// SchedulerManagerInterface はスケジューラハンドラーが必要とするManagerのインターフェース。
type SchedulerManagerInterface interface {
	// Status はスケジューラの状態スナップショットを返す。
	Status(ctx context.Context) brief.Status
	// TriggerNow は手動サイクルを開始する。
	TriggerNow(ctx context.Context) error
	// Pause はトリガーの発火を一時停止する。
	Pause(ctx context.Context) error
	// Resume は一時停止を解除する。
	Resume(ctx context.Context) error
	// Config は現在のスケジューラ設定を返す。
	Config() config.SchedulerConfig
	// UpdateConfig はスケジューラ設定を検証して差し替える。
	UpdateConfig(cfg config.SchedulerConfig) error
}

// SchedulerHandler はスケジューラ運用のHTTPハンドラー。
type SchedulerHandler struct {
	manager SchedulerManagerInterface
	logRepo repository.CycleLogRepository
}

// NewSchedulerHandler はSchedulerHandlerを生成する。
func NewSchedulerHandler(manager SchedulerManagerInterface, logRepo repository.CycleLogRepository) *SchedulerHandler {
	return &SchedulerHandler{
		manager: manager,
		logRepo: logRepo,
	}
}

// cycleRecordResponse はサイクルログのAPIレスポンス。
type cycleRecordResponse struct {
	ID                int64  `json:"id"`
	StartedAt         string `json:"started_at"`
	TriggerKind       string `json:"trigger_kind"`
	Status            string `json:"status"`
	Attempt           int    `json:"attempt"`
	AccountsProcessed int    `json:"accounts_processed"`
	PostsFetched      int    `json:"posts_fetched"`
	SummaryID         string `json:"summary_id,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// statusResponse はスケジューラ状態のAPIレスポンス。
type statusResponse struct {
	State         string               `json:"state"`
	CycleInFlight bool                 `json:"cycle_in_flight"`
	NextRuns      map[string]string    `json:"next_runs"`
	LastCycle     *cycleRecordResponse `json:"last_cycle,omitempty"`
}

// schedulerConfigBody はスケジューラ設定のAPIリクエスト/レスポンスボディ。
// 期間はすべて秒単位の整数で表現する。
type schedulerConfigBody struct {
	Enabled               bool     `json:"enabled"`
	Timezone              string   `json:"timezone"`
	MarketStart           string   `json:"market_start"`
	MarketEnd             string   `json:"market_end"`
	MarketIntervalMinutes int      `json:"market_interval_minutes"`
	AfterMarketEnabled    bool     `json:"after_market_enabled"`
	AfterMarketTimes      []string `json:"after_market_times"`
	WeekendEnabled        bool     `json:"weekend_enabled"`
	WeekendTime           string   `json:"weekend_time"`
	MaxPostsTotal         int      `json:"max_posts_total"`
	AccountDelaySeconds   int      `json:"account_delay_seconds"`
	RetryMaxAttempts      int      `json:"retry_max_attempts"`
	RetryBackoffSeconds   int      `json:"retry_backoff_seconds"`
}

// GetStatus はスケジューラの状態を返す。
// GET /api/scheduler/status
func (h *SchedulerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.manager.Status(r.Context())

	nextRuns := make(map[string]string, len(st.NextRuns))
	for kind, at := range st.NextRuns {
		nextRuns[string(kind)] = at.UTC().Format(time.RFC3339)
	}

	resp := statusResponse{
		State:         string(st.State),
		CycleInFlight: st.CycleInFlight,
		NextRuns:      nextRuns,
	}
	if st.LastCycle != nil {
		rec := toCycleRecordResponse(st.LastCycle)
		resp.LastCycle = &rec
	}

	writeJSON(w, http.StatusOK, resp)
}

// Pause はスケジューラを一時停止する。
// POST /api/scheduler/pause
func (h *SchedulerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Pause(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(model.RunStatePaused)})
}

// Resume は一時停止を解除する。
// POST /api/scheduler/resume
func (h *SchedulerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Resume(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(model.RunStateRunning)})
}

// Trigger は手動サイクルを開始する。
// POST /api/scheduler/trigger
func (h *SchedulerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.TriggerNow(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	// サイクルはバックグラウンドで実行されるため202を返す
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ListLogs はサイクル実行ログを返す。
// GET /api/scheduler/logs?limit=N
func (h *SchedulerHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 100)

	records, err := h.logRepo.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]cycleRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toCycleRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": resp})
}

// GetConfig は現在のスケジューラ設定を返す。
// GET /api/scheduler/config
func (h *SchedulerHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigBody(h.manager.Config()))
}

// UpdateConfig はスケジューラ設定を更新する。
// PUT /api/scheduler/config
func (h *SchedulerHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body schedulerConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeInvalidRequest(w)
		return
	}

	if err := h.manager.UpdateConfig(fromConfigBody(body)); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConfigBody(h.manager.Config()))
}

// --- ヘルパー関数 ---

func toCycleRecordResponse(rec *model.CycleRecord) cycleRecordResponse {
	return cycleRecordResponse{
		ID:                rec.ID,
		StartedAt:         rec.StartedAt.UTC().Format(time.RFC3339),
		TriggerKind:       string(rec.TriggerKind),
		Status:            string(rec.Status),
		Attempt:           rec.Attempt,
		AccountsProcessed: rec.AccountsProcessed,
		PostsFetched:      rec.PostsFetched,
		SummaryID:         rec.SummaryID,
		ErrorMessage:      rec.ErrorMessage,
	}
}

func toConfigBody(cfg config.SchedulerConfig) schedulerConfigBody {
	return schedulerConfigBody{
		Enabled:               cfg.Enabled,
		Timezone:              cfg.Timezone,
		MarketStart:           cfg.MarketStart,
		MarketEnd:             cfg.MarketEnd,
		MarketIntervalMinutes: cfg.MarketIntervalMinutes,
		AfterMarketEnabled:    cfg.AfterMarketEnabled,
		AfterMarketTimes:      cfg.AfterMarketTimes,
		WeekendEnabled:        cfg.WeekendEnabled,
		WeekendTime:           cfg.WeekendTime,
		MaxPostsTotal:         cfg.MaxPostsTotal,
		AccountDelaySeconds:   int(cfg.AccountDelay / time.Second),
		RetryMaxAttempts:      cfg.RetryMaxAttempts,
		RetryBackoffSeconds:   int(cfg.RetryBackoff / time.Second),
	}
}

func fromConfigBody(body schedulerConfigBody) config.SchedulerConfig {
	cfg := config.DefaultSchedulerConfig()
	cfg.Enabled = body.Enabled
	cfg.Timezone = body.Timezone
	cfg.MarketStart = body.MarketStart
	cfg.MarketEnd = body.MarketEnd
	cfg.MarketIntervalMinutes = body.MarketIntervalMinutes
	cfg.AfterMarketEnabled = body.AfterMarketEnabled
	cfg.AfterMarketTimes = body.AfterMarketTimes
	cfg.WeekendEnabled = body.WeekendEnabled
	cfg.WeekendTime = body.WeekendTime
	cfg.MaxPostsTotal = body.MaxPostsTotal
	cfg.AccountDelay = time.Duration(body.AccountDelaySeconds) * time.Second
	cfg.RetryMaxAttempts = body.RetryMaxAttempts
	cfg.RetryBackoff = time.Duration(body.RetryBackoffSeconds) * time.Second
	return cfg
}

// parseLimit はlimitクエリパラメータを解析する。未指定・不正値はデフォルト値を返す。
func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeInvalidRequest はリクエストボディ解析失敗の統一エラーレスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAccountNotFound, model.ErrCodeSummaryNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidHandle, model.ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case model.ErrCodeAccountExists, model.ErrCodeCycleInFlight, model.ErrCodeSchedulerStopped:
		return http.StatusConflict
	case model.ErrCodeSourceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
