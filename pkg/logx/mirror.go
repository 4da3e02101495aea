package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a mirrored log line to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

const (
	mirrorQueue    = 256
	mirrorMaxLen   = 3500
	mirrorFieldLen = 600
	mirrorTimeout  = 10 * time.Second
)

type mirrorLine struct {
	chatID   int64
	threadID int
	text     string
}

// mirror is a zerolog.LevelWriter that hands lines at or above a minimum
// level to a background sender. Writes never block; lines beyond the rate
// or the queue are dropped.
type mirror struct {
	sender Sender
	queue  chan mirrorLine

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newMirror(sender Sender) *mirror {
	return &mirror{sender: sender, queue: make(chan mirrorLine, mirrorQueue)}
}

func (m *mirror) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	m.mu.Lock()
	m.chatID = cfg.ChatID
	m.threadID = cfg.ThreadID
	m.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	m.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	m.mu.Unlock()

	if cfg.Enabled && m.sender != nil {
		m.startOnce.Do(m.start)
	}
}

func (m *mirror) start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel, m.done = cancel, make(chan struct{})
	m.mu.Unlock()
	go m.run(ctx)
}

func (m *mirror) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-m.queue:
			sctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			_ = m.sender.SendText(sctx, ln.chatID, ln.threadID, ln.text)
			cancel()
		}
	}
}

func (m *mirror) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *mirror) Write(p []byte) (int, error) { return m.WriteLevel(LevelInfo, p) }

func (m *mirror) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	m.mu.Lock()
	ln := mirrorLine{chatID: m.chatID, threadID: m.threadID}
	ok := m.sender != nil && ln.chatID != 0 && level >= m.minLevel && m.limiter.Allow()
	m.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if ln.text = formatMirrorLine(p); ln.text == "" {
		return len(p), nil
	}
	select {
	case m.queue <- ln:
	default:
	}
	return len(p), nil
}

// formatMirrorLine renders a JSON log line as "[LEVEL] message" followed by
// one "- key=value" line per field, keys sorted. Non-JSON input is passed
// through trimmed.
func formatMirrorLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, mirrorMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), mirrorFieldLen))
	}
	return clip(b.String(), mirrorMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
