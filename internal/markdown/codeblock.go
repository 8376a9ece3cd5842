package markdown

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// codeBlockRenderer replaces goldmark's fenced code output with a wrapper that
// exposes the language tag and a copy-to-clipboard button, and highlights
// the body.
type codeBlockRenderer struct {
	highlighter Highlighter
	cache       *highlightCache
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderIndentedCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	language := ""
	if l := n.Language(source); l != nil {
		language = string(l)
	}
	r.writeBlock(w, blockText(n, source), language)
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) renderIndentedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.writeBlock(w, blockText(node, source), "")
	return ast.WalkSkipChildren, nil
}

func blockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// writeBlock emits:
//
//	<div class="code-block" data-language="go">
//	  <div class="code-block-header"><span class="code-language">go</span><button ...>Copy</button></div>
//	  <pre><code id="code-…" class="language-go" data-highlighted="yes">…</code></pre>
//	</div>
func (r *codeBlockRenderer) writeBlock(w util.BufWriter, code, language string) {
	label := language
	if label == "" {
		label = "text"
	}
	key := blockKey(code, language)
	id := fmt.Sprintf("code-%016x", key)
	lang := html.EscapeString(label)

	_, _ = fmt.Fprintf(w, `<div class="code-block" data-language="%s">`, lang)
	_, _ = fmt.Fprintf(w, `<div class="code-block-header"><span class="code-language">%s</span>`, lang)
	_, _ = fmt.Fprintf(w, `<button type="button" class="copy-code-button" data-copy-target="%s">Copy</button></div>`, id)

	body, highlighted := r.highlight(key, code, language)
	if highlighted {
		_, _ = fmt.Fprintf(w, `<pre><code id="%s" class="language-%s" data-highlighted="yes">`, id, lang)
	} else {
		_, _ = fmt.Fprintf(w, `<pre><code id="%s" class="language-%s">`, id, lang)
	}
	_, _ = w.WriteString(body)
	_, _ = w.WriteString("</code></pre></div>\n")
}

// highlight returns the block body and whether it carries highlight markup.
// A block already in the cache is not highlighted again.
func (r *codeBlockRenderer) highlight(key uint64, code, language string) (string, bool) {
	if r.highlighter == nil {
		return html.EscapeString(code), false
	}
	if v, ok := r.cache.get(key); ok {
		return v, true
	}
	out, err := r.highlighter.Highlight(code, language)
	if err != nil || strings.TrimSpace(out) == "" && strings.TrimSpace(code) != "" {
		return html.EscapeString(code), false
	}
	r.cache.put(key, out)
	return out, true
}
