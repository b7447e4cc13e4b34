// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, scheduler, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidHandle     = "INVALID_HANDLE"
	ErrCodeAccountExists     = "ACCOUNT_EXISTS"
	ErrCodeCycleInFlight     = "CYCLE_IN_FLIGHT"
	ErrCodeSchedulerStopped  = "SCHEDULER_STOPPED"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeSummaryNotFound   = "SUMMARY_NOT_FOUND"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
)

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", handle),
		Category: "validation",
		Action:   "ハンドルを確認してください。",
	}
}

// NewInvalidHandleError はハンドル形式エラーを生成する。
func NewInvalidHandleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidHandle,
		Message:  fmt.Sprintf("ハンドルの形式が不正です: %s", reason),
		Category: "validation",
		Action:   "英数字とアンダースコアのみのハンドルを指定してください。",
	}
}

// NewAccountExistsError はアカウント重複エラーを生成する。
func NewAccountExistsError(handle string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  fmt.Sprintf("アカウントは既に登録されています: %s", handle),
		Category: "validation",
		Action:   "別のハンドルを指定してください。",
	}
}

// NewCycleInFlightError はサイクル実行中エラーを生成する。
func NewCycleInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeCycleInFlight,
		Message:  "別のサイクルが実行中です。",
		Category: "scheduler",
		Action:   "サイクルの完了を待ってから再度トリガーしてください。",
	}
}

// NewSchedulerStoppedError はスケジューラ停止中エラーを生成する。
func NewSchedulerStoppedError() *APIError {
	return &APIError{
		Code:     ErrCodeSchedulerStopped,
		Message:  "スケジューラは停止しています。",
		Category: "scheduler",
		Action:   "ワーカーの起動状態を確認してください。",
	}
}

// NewInvalidConfigError は設定エラーを生成する。
func NewInvalidConfigError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfig,
		Message:  fmt.Sprintf("設定値が不正です: %s", reason),
		Category: "validation",
		Action:   "設定値を確認してください。",
	}
}

// NewSummaryNotFoundError はサマリー未検出エラーを生成する。
func NewSummaryNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSummaryNotFound,
		Message:  "サマリーがまだ生成されていません。",
		Category: "validation",
		Action:   "サイクルの実行後に再度取得してください。",
	}
}
