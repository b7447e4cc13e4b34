// Package security はアプリケーションのセキュリティ機能を提供する。
//
// PostSanitizerService はRSSミラー経由で取得した投稿のHTML断片を
// プレーンテキストに変換する。bluemondayの許可リストで危険な要素を
// 除去した上で、構造タグを改行に変換しながらテキストを抽出する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// PostSanitizerService は投稿本文のプレーンテキスト化のインターフェースを定義する。
// RSSソースの投稿保存前に使用される。
type PostSanitizerService interface {
	// Flatten はHTML断片をプレーンテキストに変換する。
	// script, iframe, style等の危険な要素は内容ごと除去され、
	// p, br, li等の構造タグは改行に変換される。
	// HTMLエンティティはデコードされる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Flatten(rawHTML string) string
}

// postSanitizer はPostSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフに変換処理を行う。
type postSanitizer struct {
	policy *bluemonday.Policy
}

// NewPostSanitizer はPostSanitizerServiceの新しいインスタンスを生成する。
// ポリシーは行構造の復元に必要な構造タグのみを許可する。
// script, iframe, styleは許可リストに含めないことで内容ごと除去される。
func NewPostSanitizer() *postSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "blockquote")

	return &postSanitizer{
		policy: p,
	}
}

// Flatten はHTML断片をプレーンテキストに変換する。
func (s *postSanitizer) Flatten(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	// 第1段階: 許可リスト外のタグと危険な内容を除去する。
	sanitized := s.policy.Sanitize(rawHTML)

	// 第2段階: 残った構造タグを改行に変換しながらテキストを抽出する。
	// html.Parseは不正なHTML断片でもエラーなくツリーを構築する。
	doc, err := html.Parse(strings.NewReader(sanitized))
	if err != nil {
		// パース不能な入力はタグ除去済みのテキストをそのまま返す
		return strings.TrimSpace(sanitized)
	}

	var b strings.Builder
	flattenNode(doc, &b)

	return collapseBlankLines(b.String())
}

// flattenNode はノードを再帰的に走査してテキストを抽出する。
// テキストノードはパーサーによりエンティティがデコード済み。
func flattenNode(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}

	if n.Type == html.ElementNode && n.Data == "br" {
		b.WriteString("\n")
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(c, b)
	}

	// ブロック要素の終端で改行する
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "li", "blockquote", "ul", "ol":
			b.WriteString("\n")
		}
	}
}

// collapseBlankLines は各行をトリムし、連続する空行を1つにまとめる。
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
