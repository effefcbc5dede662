// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はMarkdownノートから生成したHTMLをサニタイズする。
// ノート本文は利用者が自由に書けるため、生のHTMLが埋め込まれていても
// 許可リストにないタグと属性はbluemondayで全て取り除く。
package security

import (
	"net/url"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// codeLanguageClass はコードブロックの言語指定（goldmarkが付与するclass）。
var codeLanguageClass = regexp.MustCompile(`^language-[\w+#-]+$`)

type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はMarkdown由来のHTML向けのポリシーを構築する。
// ポリシーの内容:
//   - 見出し、段落、リスト、引用、コード、表、水平線、取り消し線を許可
//   - script, iframe, style および全てのon*イベント属性は除去
//   - aタグ: httpsとmailtoのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - imgタグ: httpsスキームのsrcのみ許可
//   - タスクリストのチェックボックス（disabledなinput）を許可
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del", "s",
		"table", "thead", "tbody", "tr",
	)
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|center|right)$`)).OnElements("th", "td")
	p.AllowElements("th", "td")
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
	p.AllowAttrs("class").Matching(codeLanguageClass).OnElements("code")
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	// GFMのタスクリスト
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").Matching(regexp.MustCompile(`^(|checked|disabled)$`)).OnElements("input")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemes("mailto")

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt", "title").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
