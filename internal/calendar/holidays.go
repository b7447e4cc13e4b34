package calendar

import "time"

// 米国市場の休場日（静的リスト）。日付のみで比較し、時刻は考慮しない。
var usMarketHolidays = map[holidayDate]bool{
	// 2025
	{2025, time.January, 1}:    true, // New Year's Day
	{2025, time.January, 20}:   true, // Martin Luther King Jr. Day
	{2025, time.February, 17}:  true, // Presidents Day
	{2025, time.April, 18}:     true, // Good Friday
	{2025, time.May, 26}:       true, // Memorial Day
	{2025, time.June, 19}:      true, // Juneteenth
	{2025, time.July, 4}:       true, // Independence Day
	{2025, time.September, 1}:  true, // Labor Day
	{2025, time.November, 27}:  true, // Thanksgiving
	{2025, time.December, 25}:  true, // Christmas

	// 2026
	{2026, time.January, 1}:    true, // New Year's Day
	{2026, time.January, 19}:   true, // Martin Luther King Jr. Day
	{2026, time.February, 16}:  true, // Presidents Day
	{2026, time.April, 3}:      true, // Good Friday
	{2026, time.May, 25}:       true, // Memorial Day
	{2026, time.June, 19}:      true, // Juneteenth
	{2026, time.July, 3}:       true, // Independence Day (observed)
	{2026, time.September, 7}:  true, // Labor Day
	{2026, time.November, 26}:  true, // Thanksgiving
	{2026, time.December, 25}:  true, // Christmas

	// 2027
	{2027, time.January, 1}:    true, // New Year's Day
	{2027, time.January, 18}:   true, // Martin Luther King Jr. Day
	{2027, time.February, 15}:  true, // Presidents Day
	{2027, time.March, 26}:     true, // Good Friday
	{2027, time.May, 31}:       true, // Memorial Day
	{2027, time.June, 18}:      true, // Juneteenth (observed)
	{2027, time.July, 5}:       true, // Independence Day (observed)
	{2027, time.September, 6}:  true, // Labor Day
	{2027, time.November, 25}:  true, // Thanksgiving
	{2027, time.December, 24}:  true, // Christmas (observed)
}

type holidayDate struct {
	year  int
	month time.Month
	day   int
}

// IsMarketHoliday は指定日が市場休場日かどうかを返す。日付のみで判定する。
func IsMarketHoliday(t time.Time) bool {
	return usMarketHolidays[holidayDate{t.Year(), t.Month(), t.Day()}]
}

// IsWeekend は指定日が土日かどうかを返す。
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsTradingDay は指定日が取引日（平日かつ非休場日）かどうかを返す。
func IsTradingDay(t time.Time) bool {
	return !IsWeekend(t) && !IsMarketHoliday(t)
}

// NextTradingDay は指定日の翌日以降で最初の取引日を返す。
func NextTradingDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
