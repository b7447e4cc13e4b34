// Package model はドメインモデルを定義する。
package model

import "time"

// PostKind は投稿の分類を表す。
type PostKind string

const (
	// PostKindOriginal はオリジナル投稿。
	PostKindOriginal PostKind = "original"
	// PostKindReshare はリポスト（元投稿の再共有）。
	PostKindReshare PostKind = "reshare"
	// PostKindQuote は引用投稿。
	PostKindQuote PostKind = "quote"
	// PostKindReply はリプライ。
	PostKindReply PostKind = "reply"
)

// Post はソースから取得した投稿を表す。取得後は不変として扱う。
type Post struct {
	ID            string // snowflake形式の数値文字列。大小比較で新旧を判定できる
	AccountHandle string // どの監視アカウントのフェッチで取得されたか
	AuthorHandle  string // 投稿者のハンドル（リポストの場合も再共有した側）
	AuthorName    string // 投稿者の表示名
	Text          string // 本文（プレーンテキスト）
	CreatedAt     time.Time
	Likes         int
	Reshares      int
	Kind          PostKind

	// RefText / RefAuthorHandle は引用・リポスト元の本文と投稿者。
	// Kindがquote/reshare以外の場合は空。
	RefText         string
	RefAuthorHandle string

	// ReplyToHandle はリプライ先のハンドル。Kindがreply以外の場合は空。
	ReplyToHandle string

	Permalink string
}

// Engagement はいいね数とリポスト数の合計を返す。選択アルゴリズムの補充順で使用する。
func (p *Post) Engagement() int {
	return p.Likes + p.Reshares
}

// FetchStrategy はハイブリッドフェッチでどの戦略が結果を生成したかを表す。
type FetchStrategy string

const (
	// StrategyTimestamp はタイムスタンプ範囲検索で取得したことを示す。
	StrategyTimestamp FetchStrategy = "timestamp"
	// StrategyCursor はカーソル（since_id）フォールバックで取得したことを示す。
	StrategyCursor FetchStrategy = "cursor"
	// StrategyNone はいずれの戦略も投稿を返さなかったことを示す。
	StrategyNone FetchStrategy = "none"
)

// FetchOutcome は1アカウント・1サイクル分のフェッチ結果。サイクル内でのみ存在する。
type FetchOutcome struct {
	Handle       string
	Posts        []Post
	StrategyUsed FetchStrategy

	// Succeeded は少なくとも一方の戦略がハードエラーなしに完了したことを示す。
	// 両戦略とも0件でも「新着なし」であり成功である。
	Succeeded    bool
	ErrorMessage string

	// FetchedAt はこのフェッチの検索窓の上端として使用した信頼済み時刻（UTC）。
	// コミット時にlast_fetch_atへそのまま書き込むことで検索窓の欠落を防ぐ。
	FetchedAt time.Time
}

// Summary は生成されたサマリーを表す。
type Summary struct {
	ID        string // UUID
	Text      string
	PostIDs   []string // サマリー生成に使用した投稿のID
	CreatedAt time.Time
}
