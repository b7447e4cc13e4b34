package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/marketbrief/internal/middleware"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/repository"
)

// handlePattern は許可するハンドルの形式。英数字とアンダースコア、15文字以内。
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// AccountHandler は監視アカウント管理のHTTPハンドラー。
type AccountHandler struct {
	repo repository.AccountRepository
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(repo repository.AccountRepository) *AccountHandler {
	return &AccountHandler{repo: repo}
}

// createAccountRequest はアカウント登録リクエストのボディ。
type createAccountRequest struct {
	Handle string `json:"handle"`
}

// accountResponse はアカウント情報のAPIレスポンス。
type accountResponse struct {
	Handle        string  `json:"handle"`
	DisplayName   string  `json:"display_name,omitempty"`
	LastPostID    string  `json:"last_post_id,omitempty"`
	LastFetchAt   *string `json:"last_fetch_at,omitempty"`
	LastSummaryID string  `json:"last_summary_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ListAccounts は監視アカウントの一覧を返す。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.repo.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": resp})
}

// CreateAccount は監視アカウントを登録する。
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Handle), "@"))
	if handle == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidHandleError("ハンドルが空です"))
		return
	}
	if !handlePattern.MatchString(handle) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidHandleError(handle))
		return
	}

	account := &model.TrackedAccount{Handle: handle}
	if err := h.repo.Create(r.Context(), account); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// DeleteAccount は監視アカウントを削除する。
// DELETE /api/accounts/:handle
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	handle := strings.ToLower(chi.URLParam(r, "handle"))

	deleted, err := h.repo.Delete(r.Context(), handle)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !deleted {
		middleware.WriteErrorResponse(w, http.StatusNotFound,
			model.NewAccountNotFoundError(handle))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toAccountResponse(a *model.TrackedAccount) accountResponse {
	resp := accountResponse{
		Handle:        a.Handle,
		DisplayName:   a.DisplayName,
		LastPostID:    a.LastPostID,
		LastSummaryID: a.LastSummaryID,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastFetchAt != nil {
		s := a.LastFetchAt.UTC().Format(time.RFC3339)
		resp.LastFetchAt = &s
	}
	return resp
}
