// Package calendar は市場カレンダーに基づくトリガー判定を提供する。
package calendar

import (
	"fmt"
	"time"

	"github.com/hitoshi/marketbrief/internal/config"
	"github.com/hitoshi/marketbrief/internal/model"
)

// Calendar は設定済みタイムゾーンの市場カレンダーを表す。
// 夏時間のオフセットは常に判定対象の日付で解決される。
type Calendar struct {
	loc *time.Location

	marketStartHour, marketStartMin int
	marketEndHour, marketEndMin     int
	marketInterval                  time.Duration

	afterMarketEnabled bool
	afterMarketTimes   []clockTime

	weekendEnabled bool
	weekendTime    clockTime
}

type clockTime struct {
	hour, minute int
}

// New はSchedulerConfigからCalendarを生成する。
// タイムゾーンまたは時刻形式が不正な場合はエラーを返す。
func New(cfg config.SchedulerConfig) (*Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("カレンダー設定が不正です: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("タイムゾーンの読み込みに失敗しました: %w", err)
	}

	c := &Calendar{
		loc:                loc,
		marketInterval:     time.Duration(cfg.MarketIntervalMinutes) * time.Minute,
		afterMarketEnabled: cfg.AfterMarketEnabled,
		weekendEnabled:     cfg.WeekendEnabled,
	}

	c.marketStartHour, c.marketStartMin, _ = config.ParseClock(cfg.MarketStart)
	c.marketEndHour, c.marketEndMin, _ = config.ParseClock(cfg.MarketEnd)

	for _, ts := range cfg.AfterMarketTimes {
		h, m, _ := config.ParseClock(ts)
		c.afterMarketTimes = append(c.afterMarketTimes, clockTime{h, m})
	}

	wh, wm, _ := config.ParseClock(cfg.WeekendTime)
	c.weekendTime = clockTime{wh, wm}

	return c, nil
}

// Location はカレンダーのタイムゾーンを返す。
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// ShouldRunAt は指定時刻がいずれかのケイデンスの実行タイミングかどうかを判定する。
// 実行すべき場合はそのトリガー種別を返す。境界時刻は包含として扱う。
// 判定は分単位の粒度で行う。
func (c *Calendar) ShouldRunAt(instant time.Time) (bool, model.TriggerKind) {
	local := instant.In(c.loc)

	if c.isMarketHoursDue(local) {
		return true, model.TriggerMarketHours
	}
	if c.isAfterMarketDue(local) {
		return true, model.TriggerAfterMarket
	}
	if c.isWeekendDue(local) {
		return true, model.TriggerWeekend
	}
	return false, ""
}

// isMarketHoursDue は市場時間ケイデンスの実行タイミングかどうかを判定する。
// 取引日の市場時間内（両端を含む）で、市場開始時刻を起点とする
// interval刻みのグリッド上にあるときにtrueを返す。
func (c *Calendar) isMarketHoursDue(local time.Time) bool {
	if !IsTradingDay(local) {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), c.marketStartHour, c.marketStartMin, 0, 0, c.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), c.marketEndHour, c.marketEndMin, 0, 0, c.loc)

	minuteOf := local.Truncate(time.Minute)
	if minuteOf.Before(open) || minuteOf.After(end) {
		return false
	}

	elapsed := minuteOf.Sub(open)
	return elapsed%c.marketInterval == 0
}

// isAfterMarketDue は市場時間外ケイデンスの実行タイミングかどうかを判定する。
// 判定対象の日付の夏時間オフセットで定時刻を絶対時刻に変換する。
func (c *Calendar) isAfterMarketDue(local time.Time) bool {
	if !c.afterMarketEnabled {
		return false
	}
	if !IsTradingDay(local) {
		return false
	}

	for _, ct := range c.afterMarketTimes {
		if local.Hour() == ct.hour && local.Minute() == ct.minute {
			return true
		}
	}
	return false
}

// isWeekendDue は週末ケイデンスの実行タイミングかどうかを判定する。
func (c *Calendar) isWeekendDue(local time.Time) bool {
	if !c.weekendEnabled {
		return false
	}
	if !IsWeekend(local) {
		return false
	}
	return local.Hour() == c.weekendTime.hour && local.Minute() == c.weekendTime.minute
}

// NextRun は指定時刻より後で最初に実行タイミングとなる時刻とトリガー種別を返す。
// 最大14日先まで分単位で走査し、見つからない場合はゼロ値を返す。
// 分単位の前進走査のため、夏時間切り替えをまたいでも対象日のオフセットで解決される。
func (c *Calendar) NextRun(after time.Time) (time.Time, model.TriggerKind) {
	cursor := after.In(c.loc).Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(14 * 24 * time.Hour)

	for cursor.Before(limit) {
		if run, kind := c.ShouldRunAt(cursor); run {
			return cursor, kind
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, ""
}

// NextRuns は各ケイデンスの次回実行時刻を返す。運用APIのステータス表示に使用する。
func (c *Calendar) NextRuns(after time.Time) map[model.TriggerKind]time.Time {
	result := make(map[model.TriggerKind]time.Time)
	cursor := after.In(c.loc).Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(14 * 24 * time.Hour)

	for cursor.Before(limit) && len(result) < 3 {
		local := cursor
		if _, ok := result[model.TriggerMarketHours]; !ok && c.isMarketHoursDue(local) {
			result[model.TriggerMarketHours] = cursor
		}
		if _, ok := result[model.TriggerAfterMarket]; !ok && c.isAfterMarketDue(local) {
			result[model.TriggerAfterMarket] = cursor
		}
		if _, ok := result[model.TriggerWeekend]; !ok && c.isWeekendDue(local) {
			result[model.TriggerWeekend] = cursor
		}
		cursor = cursor.Add(time.Minute)
	}
	return result
}
