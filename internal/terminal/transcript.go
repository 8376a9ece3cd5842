package terminal

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"repodash/internal/session"
)

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Chat transcript</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; }
.message { margin: 1rem 0; padding: .75rem 1rem; border-radius: .5rem; }
.message.user { background: #eef4ff; }
.message.assistant { background: #f6f6f6; }
.meta { font-size: .75rem; color: #666; margin-bottom: .25rem; }
.code-block-header { display: flex; justify-content: space-between; font-size: .75rem; }
pre { overflow-x: auto; }
{{.Styles}}
</style>
</head>
<body>
{{range .Messages}}<div class="message {{.Role}}">
<div class="meta">{{.Role}}{{with .Timestamp}} · {{.Format "2006-01-02 15:04:05"}}{{end}}</div>
<div class="content">{{.HTML}}</div>
</div>
{{end}}</body>
</html>
`))

// Transcript mirrors the visible message list into an HTML file. A nil
// *Transcript ignores every call.
type Transcript struct {
	path   string
	styles template.CSS
	logger *zap.Logger

	mu       sync.Mutex
	messages []session.Message
}

// NewTranscript writes to path. styles is the highlight stylesheet embedded in
// every write.
func NewTranscript(path, styles string, logger *zap.Logger) *Transcript {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcript{path: path, styles: template.CSS(styles), logger: logger}
}

// Replace sets the whole message list and rewrites the file.
func (t *Transcript) Replace(messages []session.Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages[:0:0], messages...)
	t.flushLocked()
}

// Append adds one finished message and rewrites the file.
func (t *Transcript) Append(m session.Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
	t.flushLocked()
}

type transcriptMessage struct {
	Role      string
	Timestamp *time.Time
	HTML      template.HTML
}

func (t *Transcript) flushLocked() {
	if err := t.write(); err != nil {
		t.logger.Error("failed to write transcript", zap.String("path", t.path), zap.Error(err))
	}
}

func (t *Transcript) write() error {
	view := struct {
		Styles   template.CSS
		Messages []transcriptMessage
	}{Styles: t.styles}
	for _, m := range t.messages {
		tm := transcriptMessage{Role: string(m.Role), HTML: m.HTML}
		if !m.Timestamp.IsZero() {
			ts := m.Timestamp.Local()
			tm.Timestamp = &ts
		}
		view.Messages = append(view.Messages, tm)
	}

	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, view); err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".transcript-*.html")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}
