// Package model はドメインモデルを定義する。
package model

import "time"

// TrackedAccount は監視対象のソーシャルメディアアカウントを表す。
// カーソル・タイムスタンプ等の取得状態はサイクルのコミット時にのみ更新される。
type TrackedAccount struct {
	Handle      string // 一意なハンドル（小文字、@なし）
	DisplayName string // 表示名（初回フェッチ時に投稿から補完される）

	// LastPostID は前回までに観測した最新投稿のID。
	// 単調非減少のウォーターマークとして使用する。空文字列は未観測を表す。
	LastPostID string

	// LastFetchAt は最後に成功したフェッチの基準時刻（UTC）。
	// nilの場合はタイムスタンプ戦略を使用できない（初回フェッチ前）。
	LastFetchAt *time.Time

	// LastSummaryID はこのアカウントを含む直近のサマリーID。空文字列は未生成。
	LastSummaryID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostIDLess は投稿ID（snowflake形式の数値文字列）の大小を比較する。
// 桁数が多いほど大きい。同桁数の場合は辞書順で比較する。
// 数値への変換を行わないためオーバーフローの心配がない。
func PostIDLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// MaxPostID は2つの投稿IDのうち大きい方を返す。
// 空文字列（未観測）はあらゆるIDより小さいとみなす。
func MaxPostID(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if PostIDLess(a, b) {
		return b
	}
	return a
}
