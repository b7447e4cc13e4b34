package brief

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/marketbrief/internal/calendar"
	"github.com/hitoshi/marketbrief/internal/config"
	"github.com/hitoshi/marketbrief/internal/metrics"
	"github.com/hitoshi/marketbrief/internal/model"
	"github.com/hitoshi/marketbrief/internal/repository"
	"github.com/hitoshi/marketbrief/internal/summarizer"
)

// Fetcher は1アカウント分のフェッチを実行するインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, account *model.TrackedAccount) model.FetchOutcome
}

// Status は運用APIに公開するスケジューラの状態スナップショット。
type Status struct {
	State         model.RunState
	CycleInFlight bool
	NextRuns      map[model.TriggerKind]time.Time
	LastCycle     *model.CycleRecord
}

// Manager はサイクル実行のスケジューリングと状態遷移を管理する。
// 状態はStopped→Running⇄Paused→Stoppedと遷移し、トリガーが発火するのは
// Runningのみ。サイクルの実行は常に高々1つ（排他フラグで保証）。
type Manager struct {
	accountRepo  repository.AccountRepository
	summaryRepo  repository.SummaryRepository
	cycleLogRepo repository.CycleLogRepository
	stateRepo    repository.SchedulerStateRepository
	fetcher      Fetcher
	summarizer   summarizer.Service
	logger       *slog.Logger
	metrics      metrics.Recorder

	fetchTimeout     time.Duration
	summarizeTimeout time.Duration

	mu            sync.Mutex
	cfg           config.SchedulerConfig
	cal           *calendar.Calendar
	state         model.RunState
	cycleInFlight bool
	lastCycle     *model.CycleRecord
	lastFired     time.Time // 同一分内の再発火防止

	// テストで差し替え可能な時刻・待機関数。
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewManager はManagerの新しいインスタンスを生成する。
// カレンダー設定が不正な場合はfail-closed（トリガーを一切発火しない）とし、
// エラーは起動時に1回だけログに記録する。
func NewManager(
	accountRepo repository.AccountRepository,
	summaryRepo repository.SummaryRepository,
	cycleLogRepo repository.CycleLogRepository,
	stateRepo repository.SchedulerStateRepository,
	fetcher Fetcher,
	summarizerService summarizer.Service,
	logger *slog.Logger,
	cfg config.SchedulerConfig,
	fetchTimeout, summarizeTimeout time.Duration,
) *Manager {
	m := &Manager{
		accountRepo:      accountRepo,
		summaryRepo:      summaryRepo,
		cycleLogRepo:     cycleLogRepo,
		stateRepo:        stateRepo,
		fetcher:          fetcher,
		summarizer:       summarizerService,
		logger:           logger,
		metrics:          metrics.Nop{},
		fetchTimeout:     fetchTimeout,
		summarizeTimeout: summarizeTimeout,
		cfg:              cfg,
		state:            model.RunStateStopped,
		now:              func() time.Time { return time.Now().UTC() },
		sleep:            sleepContext,
	}

	cal, err := calendar.New(cfg)
	if err != nil {
		logger.Error("スケジューラ設定が不正なためトリガーを無効化します",
			slog.String("error", err.Error()),
		)
	} else {
		m.cal = cal
	}
	return m
}

// SetMetrics はメトリクスレコーダーを差し替える。未設定の場合は何も記録しない。
func (m *Manager) SetMetrics(rec metrics.Recorder) {
	if rec != nil {
		m.metrics = rec
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Start はティックループを起動し、コンテキストのキャンセルまで実行を継続する。
// 永続化された一時停止フラグを復元してから開始する。
func (m *Manager) Start(ctx context.Context) {
	paused, err := m.stateRepo.GetPaused(ctx)
	if err != nil {
		m.logger.Warn("一時停止フラグの読み込みに失敗しました。実行状態で開始します",
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	if paused || m.cfg.Paused {
		m.state = model.RunStatePaused
	} else {
		m.state = model.RunStateRunning
	}
	enabled := m.cfg.Enabled
	tick := m.cfg.TickInterval
	state := m.state
	m.mu.Unlock()

	if !enabled {
		m.logger.Info("スケジューラは無効化されています")
		m.setState(model.RunStateStopped)
		return
	}

	m.logger.Info("スケジューラを開始しました",
		slog.String("state", string(state)),
		slog.Duration("tick_interval", tick),
	)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.setState(model.RunStateStopped)
			m.logger.Info("スケジューラを停止しました")
			return
		case <-ticker.C:
			m.onTick(ctx)
		}
	}
}

// onTick は1ティック分のトリガー評価を行う。
// Running状態かつカレンダー上の実行タイミングの場合のみサイクルを起動する。
// ティック粒度が1分未満のため、同一分内の二重発火はlastFiredで抑止する。
func (m *Manager) onTick(ctx context.Context) {
	m.mu.Lock()
	state, cal := m.state, m.cal
	m.mu.Unlock()

	if state != model.RunStateRunning || cal == nil {
		return
	}

	instant := m.now()
	due, kind := cal.ShouldRunAt(instant)
	if !due {
		return
	}

	minute := instant.Truncate(time.Minute)
	m.mu.Lock()
	alreadyFired := m.lastFired.Equal(minute)
	if !alreadyFired {
		m.lastFired = minute
	}
	m.mu.Unlock()
	if alreadyFired {
		return
	}

	if !m.beginCycle() {
		m.logger.Warn("前のサイクルが実行中のためトリガーをスキップします",
			slog.String("trigger", string(kind)),
		)
		return
	}
	defer m.endCycle()
	m.runCycleWithRetry(ctx, kind)
}

// TriggerNow は手動トリガーでサイクルを即時起動する。
// 実行はバックグラウンドで行われ、受理された時点でnilを返す。
// Stopped状態では受理しない。別サイクル実行中も受理しない。
func (m *Manager) TriggerNow(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == model.RunStateStopped {
		return model.NewSchedulerStoppedError()
	}
	if !m.beginCycle() {
		return model.NewCycleInFlightError()
	}

	// 呼び出し元（HTTPリクエスト）のキャンセルでサイクルを中断させない。
	cycleCtx := context.WithoutCancel(ctx)
	go func() {
		defer m.endCycle()
		m.runCycleWithRetry(cycleCtx, model.TriggerManual)
	}()
	return nil
}

// Pause はトリガーの発火を一時停止する。スケジュールは保持される。
// 実行中のサイクルは完了まで実行される。フラグは再起動をまたいで永続化される。
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	if m.state == model.RunStateStopped {
		m.mu.Unlock()
		return model.NewSchedulerStoppedError()
	}
	m.state = model.RunStatePaused
	m.mu.Unlock()

	if err := m.stateRepo.SetPaused(ctx, true); err != nil {
		m.logger.Error("一時停止フラグの永続化に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("スケジューラを一時停止しました")
	return nil
}

// Resume は一時停止を解除する。停止中に経過したトリガーは遡って発火しない。
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.state == model.RunStateStopped {
		m.mu.Unlock()
		return model.NewSchedulerStoppedError()
	}
	m.state = model.RunStateRunning
	m.mu.Unlock()

	if err := m.stateRepo.SetPaused(ctx, false); err != nil {
		m.logger.Error("一時停止フラグの永続化に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("スケジューラを再開しました")
	return nil
}

// Status は現在の状態スナップショットを返す。実行中のサイクルをブロックしない。
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{
		State:         m.state,
		CycleInFlight: m.cycleInFlight,
		LastCycle:     m.lastCycle,
	}
	cal := m.cal
	m.mu.Unlock()

	if st.LastCycle == nil {
		if records, err := m.cycleLogRepo.ListRecent(ctx, 1); err == nil && len(records) > 0 {
			st.LastCycle = records[0]
		}
	}
	if cal != nil {
		st.NextRuns = cal.NextRuns(m.now())
	}
	return st
}

// Config は現在のスケジューラ設定のコピーを返す。
func (m *Manager) Config() config.SchedulerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig はスケジューラ設定を実行中に差し替える。
// 検証に失敗した場合は現行設定を維持してエラーを返す。
// TickIntervalの変更は次回起動から有効になる。
func (m *Manager) UpdateConfig(cfg config.SchedulerConfig) error {
	cal, err := calendar.New(cfg)
	if err != nil {
		return model.NewInvalidConfigError(err.Error())
	}

	m.mu.Lock()
	m.cfg = cfg
	m.cal = cal
	m.mu.Unlock()

	m.logger.Info("スケジューラ設定を更新しました",
		slog.String("timezone", cfg.Timezone),
		slog.Int("market_interval_minutes", cfg.MarketIntervalMinutes),
		slog.Int("max_posts_total", cfg.MaxPostsTotal),
	)
	return nil
}

// State は現在の実行状態を返す。
func (m *Manager) State() model.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(state model.RunState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// beginCycle はサイクル実行の排他フラグを取得する。
// 既に別サイクルが実行中の場合はfalseを返す。
func (m *Manager) beginCycle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cycleInFlight {
		return false
	}
	m.cycleInFlight = true
	return true
}

func (m *Manager) endCycle() {
	m.mu.Lock()
	m.cycleInFlight = false
	m.mu.Unlock()
}

// runCycleWithRetry はサイクルを実行し、失敗時は指数バックオフでリトライする。
// 試行上限に達した場合は失敗レコードを記録し、次の定期トリガーまで待機する
// （無限リトライはしない）。
func (m *Manager) runCycleWithRetry(ctx context.Context, kind model.TriggerKind) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	policy := NewRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBackoff)

	for attempt := 1; ; attempt++ {
		record := &model.CycleRecord{
			StartedAt:   m.now(),
			TriggerKind: kind,
			Attempt:     attempt,
		}

		err := m.executeCycle(ctx, cfg, record)
		if err == nil {
			record.Status = model.CycleStatusSuccess
			m.appendRecord(ctx, record)
			m.metrics.RecordCycle(string(kind), string(record.Status))
			m.logger.Info("サイクルが完了しました",
				slog.String("trigger", string(kind)),
				slog.Int("attempt", attempt),
				slog.Int("posts_fetched", record.PostsFetched),
				slog.String("summary_id", record.SummaryID),
			)
			return
		}

		record.ErrorMessage = err.Error()
		if policy.ShouldRetry(attempt) && ctx.Err() == nil {
			record.Status = model.CycleStatusRetryScheduled
			m.appendRecord(ctx, record)
			m.metrics.RecordCycle(string(kind), string(record.Status))
			delay := policy.Delay(attempt)
			m.logger.Warn("サイクルが失敗しました。リトライします",
				slog.String("trigger", string(kind)),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			m.sleep(ctx, delay)
			if ctx.Err() != nil || m.State() == model.RunStateStopped {
				return
			}
			continue
		}

		record.Status = model.CycleStatusFailure
		m.appendRecord(ctx, record)
		m.metrics.RecordCycle(string(kind), string(record.Status))
		m.logger.Error("サイクルがリトライ上限に達して失敗しました",
			slog.String("trigger", string(kind)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return
	}
}

// executeCycle は1サイクル分の取得・選択・サマリー生成・コミットを実行する。
// アカウント単位のフェッチ失敗はサイクルを中断しない（該当アカウントの状態を
// 据え置いて続行する）。サマリー生成の失敗はサイクル失敗として返す。
func (m *Manager) executeCycle(ctx context.Context, cfg config.SchedulerConfig, record *model.CycleRecord) error {
	accounts, err := m.accountRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	if len(accounts) == 0 {
		m.logger.Info("監視アカウントが登録されていません")
		return nil
	}

	// アカウント間はソースのレート制限を尊重するため逐次かつ遅延付きで処理する。
	var outcomes []model.FetchOutcome
	for i, account := range accounts {
		if i > 0 {
			m.sleep(ctx, cfg.AccountDelay)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
		outcome := m.fetcher.Fetch(fetchCtx, account)
		cancel()

		if !outcome.Succeeded {
			m.logger.Error("アカウントのフェッチが失敗しました",
				slog.String("handle", account.Handle),
				slog.String("error", outcome.ErrorMessage),
			)
		} else {
			m.logger.Info("アカウントをフェッチしました",
				slog.String("handle", account.Handle),
				slog.String("strategy", string(outcome.StrategyUsed)),
				slog.Int("post_count", len(outcome.Posts)),
			)
			m.backfillDisplayName(ctx, account, outcome.Posts)
		}

		outcomes = append(outcomes, outcome)
		record.PostsFetched += len(outcome.Posts)
		m.metrics.RecordFetchOutcome(string(outcome.StrategyUsed), outcome.Succeeded)
	}
	record.AccountsProcessed = len(accounts)
	m.metrics.RecordPostsFetched(record.PostsFetched)

	selected := Select(outcomes, cfg.MaxPostsTotal)
	m.metrics.RecordPostsSelected(len(selected))

	// 新着なしでもフェッチに成功したアカウントの検索窓は前進させる。
	if len(selected) == 0 {
		m.commitOutcomes(ctx, outcomes, "")
		m.logger.Info("新着投稿はありませんでした。サマリー生成をスキップします",
			slog.Int("accounts_processed", record.AccountsProcessed),
		)
		return nil
	}

	priorText := ""
	if prior, err := m.summaryRepo.FindLatest(ctx); err != nil {
		m.logger.Warn("前回サマリーの取得に失敗しました。文脈なしで生成します",
			slog.String("error", err.Error()),
		)
	} else if prior != nil {
		priorText = prior.Text
	}

	handles := make([]string, 0, len(accounts))
	for _, a := range accounts {
		handles = append(handles, a.Handle)
	}

	summarizeCtx, cancel := context.WithTimeout(ctx, m.summarizeTimeout)
	summarizeStart := time.Now()
	text, err := m.summarizer.Summarize(summarizeCtx, priorText, selected, handles, tickerHints(selected))
	cancel()
	m.metrics.RecordSummarizerLatency(time.Since(summarizeStart))
	if err != nil {
		m.metrics.RecordSummarizerFailure()
		return fmt.Errorf("サマリー生成に失敗しました: %w", err)
	}

	summary := &model.Summary{
		ID:      uuid.New().String(),
		Text:    text,
		PostIDs: postIDs(selected),
	}
	inserted, err := m.summaryRepo.Create(ctx, summary)
	if err != nil {
		return fmt.Errorf("サマリーの保存に失敗しました: %w", err)
	}

	summaryID := ""
	if inserted {
		summaryID = summary.ID
		record.SummaryID = summary.ID
	} else {
		m.logger.Info("同一の投稿セットから生成済みのサマリーが存在するため保存をスキップします",
			slog.Int("post_count", len(summary.PostIDs)),
		)
	}

	m.commitOutcomes(ctx, outcomes, summaryID)
	return nil
}

// commitOutcomes はフェッチに成功したアカウントの取得状態をコミットする。
// カーソルは観測済み最大IDへ前進し、タイムスタンプは検索窓の上端に揃える。
// 失敗したアカウントの状態は据え置かれ、次サイクルで再取得される。
func (m *Manager) commitOutcomes(ctx context.Context, outcomes []model.FetchOutcome, summaryID string) {
	for _, outcome := range outcomes {
		if !outcome.Succeeded {
			continue
		}

		newest := ""
		for _, p := range outcome.Posts {
			newest = model.MaxPostID(newest, p.ID)
		}

		fetchedAt := outcome.FetchedAt
		if err := m.accountRepo.CommitFetchState(ctx, outcome.Handle, newest, &fetchedAt, summaryID); err != nil {
			m.logger.Error("取得状態のコミットに失敗しました",
				slog.String("handle", outcome.Handle),
				slog.String("error", err.Error()),
			)
		}
	}
}

// backfillDisplayName は表示名が未設定のアカウントに対し、
// フェッチした投稿の投稿者名から表示名を補完する。
func (m *Manager) backfillDisplayName(ctx context.Context, account *model.TrackedAccount, posts []model.Post) {
	if account.DisplayName != "" {
		return
	}
	for _, p := range posts {
		if p.AuthorHandle == account.Handle && p.AuthorName != "" {
			if err := m.accountRepo.UpdateDisplayName(ctx, account.Handle, p.AuthorName); err != nil {
				m.logger.Warn("表示名の補完に失敗しました",
					slog.String("handle", account.Handle),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

func (m *Manager) appendRecord(ctx context.Context, record *model.CycleRecord) {
	if err := m.cycleLogRepo.Append(ctx, record); err != nil {
		m.logger.Error("サイクルレコードの記録に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	m.mu.Lock()
	m.lastCycle = record
	m.mu.Unlock()
}

// tickerHints は選択済み投稿の本文からティッカーを事前抽出する。
func tickerHints(posts []model.Post) []string {
	var b strings.Builder
	for _, p := range posts {
		b.WriteString(p.Text)
		b.WriteString("\n")
		b.WriteString(p.RefText)
		b.WriteString("\n")
	}
	return summarizer.ExtractTickers(b.String())
}

func postIDs(posts []model.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
