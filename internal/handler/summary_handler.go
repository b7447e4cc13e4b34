package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/repository"
)

// SummaryHandler はサマリー閲覧のHTTPハンドラー。
type SummaryHandler struct {
	repo repository.SummaryRepository
}

// NewSummaryHandler はSummaryHandlerを生成する。
func NewSummaryHandler(repo repository.SummaryRepository) *SummaryHandler {
	return &SummaryHandler{repo: repo}
}

// summaryResponse はサマリーのAPIレスポンス。
type summaryResponse struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	PostIDs   []string `json:"post_ids"`
	CreatedAt string   `json:"created_at"`
}

// ListSummaries はサマリーの一覧を作成日時降順で返す。
// GET /api/summaries?limit=N
func (h *SummaryHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 10, 50)

	summaries, err := h.repo.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, toSummaryResponse(s))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"summaries": resp})
}

// GetLatest は最新のサマリーを返す。
// GET /api/summaries/latest
func (h *SummaryHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.FindLatest(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if summary == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSummaryNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func toSummaryResponse(s *model.Summary) summaryResponse {
	return summaryResponse{
		ID:        s.ID,
		Text:      s.Text,
		PostIDs:   s.PostIDs,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
