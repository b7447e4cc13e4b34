// Package model はドメインモデルを定義する。
package model

import "time"

// TriggerKind はサイクルを起動したトリガーの種別を表す。
type TriggerKind string

const (
	// TriggerMarketHours は市場時間中の定期トリガー。
	TriggerMarketHours TriggerKind = "market_hours"
	// TriggerAfterMarket は市場時間外（夜間・早朝）の定時トリガー。
	TriggerAfterMarket TriggerKind = "after_market"
	// TriggerWeekend は週末の1日1回トリガー。
	TriggerWeekend TriggerKind = "weekend"
	// TriggerManual は手動トリガー。
	TriggerManual TriggerKind = "manual"
)

// CycleStatus はサイクルの結果を表す。
type CycleStatus string

const (
	// CycleStatusSuccess はサイクル成功（新着0件を含む）。
	CycleStatusSuccess CycleStatus = "success"
	// CycleStatusFailure はリトライ上限到達後の最終失敗。
	CycleStatusFailure CycleStatus = "failure"
	// CycleStatusRetryScheduled は失敗後にリトライが予定されたことを示す。
	CycleStatusRetryScheduled CycleStatus = "retry_scheduled"
	// CycleStatusSkipped は休日・週末等によりスキップされたことを示す。
	CycleStatusSkipped CycleStatus = "skipped"
)

// CycleRecord はスケジューラのサイクル実行ログエントリ。追記専用で書き込み後は変更しない。
// 運用時の可観測性と、リトライ回数の記録に使用する。
type CycleRecord struct {
	ID                int64
	StartedAt         time.Time
	TriggerKind       TriggerKind
	Status            CycleStatus
	Attempt           int // 1始まりの試行番号
	AccountsProcessed int
	PostsFetched      int
	SummaryID         string // 生成されたサマリーID。未生成の場合は空
	ErrorMessage      string
}

// RunState はスケジューラの実行状態を表す。
type RunState string

const (
	// RunStateStopped は停止状態。トリガーは発火しない。
	RunStateStopped RunState = "stopped"
	// RunStateRunning は実行状態。トリガーが発火する唯一の状態。
	RunStateRunning RunState = "running"
	// RunStatePaused は一時停止状態。スケジュールは保持されるがトリガーは抑制される。
	RunStatePaused RunState = "paused"
)
