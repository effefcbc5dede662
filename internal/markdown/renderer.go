// Package markdown はMarkdownノートの本文を安全なHTMLに変換する。
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/hitoshi/notemodules/internal/security"
)

// Renderer はgoldmarkでHTMLを生成し、サニタイザーで許可リスト外の要素を除去する。
// goldmarkのMarkdownとポリシーはどちらもスレッドセーフなので、1つのRendererを共有してよい。
type Renderer struct {
	md        goldmark.Markdown
	sanitizer security.ContentSanitizer
}

// NewRenderer はGFM拡張（表、取り消し線、タスクリスト、自動リンク）を有効にしたRendererを生成する。
func NewRenderer(sanitizer security.ContentSanitizer) *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	return &Renderer{md: md, sanitizer: sanitizer}
}

// Render はMarkdownをサニタイズ済みHTMLに変換する。
func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return r.sanitizer.Sanitize(buf.String()), nil
}
