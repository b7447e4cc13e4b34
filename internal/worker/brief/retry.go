package brief

import "time"

// RetryPolicy はサイクル失敗時のリトライ戦略。
// 遅延は base * 2^(attempt-1) の指数関数で増加する。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NewRetryPolicy はRetryPolicyを生成する。
// maxAttemptsが0以下の場合は1（リトライなし）として扱う。
func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// ShouldRetry は指定試行（1始まり）の失敗後にリトライすべきかどうかを返す。
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay は指定試行（1始まり）の失敗後のリトライ遅延を返す。
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
