// Package markdown renders chat message text into safe HTML. User text is
// escaped verbatim; assistant text is parsed as markdown with highlighted,
// copyable code blocks.
package markdown

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
	"go.uber.org/zap"
)

const (
	defaultStyle      = "github"
	defaultCacheLimit = 512
)

// Options configures an Assembler.
type Options struct {
	Highlighter Highlighter
	CacheLimit  int
	Logger      *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithHighlighter replaces the chroma highlighter. Passing nil disables highlighting.
func WithHighlighter(h Highlighter) Option {
	return func(o *Options) { o.Highlighter = h }
}

// WithCacheLimit bounds the number of memoized highlighted blocks. Zero disables the cache.
func WithCacheLimit(n int) Option {
	return func(o *Options) { o.CacheLimit = n }
}

// WithLogger sets the logger used for degraded renders.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Assembler is safe for concurrent use.
type Assembler struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	blocks *codeBlockRenderer
	chroma *ChromaHighlighter
	logger *zap.Logger
}

// New builds an Assembler with GFM tables, strikethrough, autolinks and
// single-newline line breaks.
func New(opts ...Option) *Assembler {
	chromaHL := NewChromaHighlighter(defaultStyle)
	o := Options{Highlighter: chromaHL, CacheLimit: defaultCacheLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	blocks := &codeBlockRenderer{
		highlighter: o.Highlighter,
		cache:       newHighlightCache(o.CacheLimit),
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			extension.Strikethrough,
			extension.Linkify,
		),
		goldmark.WithRendererOptions(
			goldmarkhtml.WithHardWraps(),
			renderer.WithNodeRenderers(util.Prioritized(blocks, 100)),
		),
	)

	return &Assembler{
		md:     md,
		policy: newPolicy(),
		blocks: blocks,
		chroma: chromaHL,
		logger: o.Logger,
	}
}

// Fence languages like c++ or c# end up in class names.
var classPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-+#. ]+$`)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("button")
	p.AllowDataAttributes()
	p.AllowAttrs("class").Matching(classPattern).OnElements("div", "span", "code", "pre", "button")
	p.AllowAttrs("id").Matching(regexp.MustCompile(`^code-[0-9a-f]{16}$`)).OnElements("code")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^button$`)).OnElements("button")
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|right|center)$`)).OnElements("th", "td")
	return p
}

// Render converts raw message text to HTML. User-authored text is escaped
// with newlines turned into <br>; nothing in it is interpreted.
func (a *Assembler) Render(raw string, isUserAuthored bool) template.HTML {
	if isUserAuthored {
		return RenderPlain(raw)
	}
	out, err := a.renderMarkdown(raw)
	if err != nil {
		a.logger.Warn("markdown render degraded to plain text", zap.Error(err), zap.Int("bytes", len(raw)))
		return RenderPlain(raw)
	}
	return out
}

func (a *Assembler) renderMarkdown(raw string) (out template.HTML, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("markdown: render panic: %v", r)
		}
	}()

	var buf bytes.Buffer
	if err := a.md.Convert([]byte(normalizeNewlines(raw)), &buf); err != nil {
		return "", fmt.Errorf("markdown: convert: %w", err)
	}
	return template.HTML(a.policy.SanitizeBytes(buf.Bytes())), nil
}

// RenderPlain escapes text and converts newlines to line breaks.
func RenderPlain(raw string) template.HTML {
	escaped := html.EscapeString(normalizeNewlines(raw))
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

// StyleSheet writes CSS for the highlight classes in rendered code blocks.
func (a *Assembler) StyleSheet(w io.Writer) error {
	return a.chroma.WriteCSS(w)
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
