package markdown

import (
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/cespare/xxhash/v2"
)

// Highlighter turns raw code into highlighted HTML markup. Implementations
// must be pure: the same input always yields the same output.
type Highlighter interface {
	Highlight(code, language string) (string, error)
}

// ChromaHighlighter emits class-based markup; pair it with StyleSheet.
type ChromaHighlighter struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// NewChromaHighlighter returns a highlighter using the named chroma style.
func NewChromaHighlighter(styleName string) *ChromaHighlighter {
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}
	return &ChromaHighlighter{
		style: style,
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.PreventSurroundingPre(true),
		),
	}
}

// Highlight tokenizes code with the lexer for language, falling back to
// content analysis and then to plain text.
func (h *ChromaHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteCSS writes the stylesheet matching the class names Highlight emits.
func (h *ChromaHighlighter) WriteCSS(w io.Writer) error {
	return h.formatter.WriteCSS(w, h.style)
}

// highlightCache memoizes highlighted blocks so re-rendering a growing stream
// does not re-tokenize blocks that are already done.
type highlightCache struct {
	mu      sync.Mutex
	entries map[uint64]string
	limit   int
}

func newHighlightCache(limit int) *highlightCache {
	return &highlightCache{entries: make(map[uint64]string), limit: limit}
}

func blockKey(code, language string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(language)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(code)
	return d.Sum64()
}

func (c *highlightCache) get(key uint64) (string, bool) {
	if c == nil || c.limit <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *highlightCache) put(key uint64, v string) {
	if c == nil || c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.limit {
		// Wholesale reset keeps the bound without tracking recency.
		c.entries = make(map[uint64]string, c.limit)
	}
	c.entries[key] = v
}

func (c *highlightCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
