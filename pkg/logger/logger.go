package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger receives progress events from a run. Implementations must be safe
// for concurrent use.
type Logger interface {
	PhaseStart(phase string, totalItems int)
	ItemProcessed(phase string, item string, action string)
	PhaseComplete(phase string, processedItems int)
	Error(phase string, item string, err error)
}

// ZerologLogger writes every event as a structured log line.
type ZerologLogger struct {
	Log zerolog.Logger
	// Kind, when set, classifies an item for the "kind" field of per-item
	// events (image, video, other).
	Kind func(path string) string
}

func (l *ZerologLogger) PhaseStart(phase string, totalItems int) {
	l.Log.Info().Str("phase", phase).Int("items", totalItems).Msg("Starting phase")
}

func (l *ZerologLogger) ItemProcessed(phase string, item string, action string) {
	ev := l.Log.Debug()
	if action != "skip" {
		ev = l.Log.Info()
	}
	ev = ev.Str("phase", phase).Str("action", action).Str("path", item)
	if l.Kind != nil && ev.Enabled() {
		ev = ev.Str("kind", l.Kind(item))
	}
	ev.Msg("Processed")
}

func (l *ZerologLogger) PhaseComplete(phase string, processedItems int) {
	l.Log.Info().Str("phase", phase).Int("processed", processedItems).Msg("Phase complete")
}

func (l *ZerologLogger) Error(phase string, item string, err error) {
	l.Log.Error().Err(err).Str("phase", phase).Str("path", item).Msg("Failed")
}

type NullLogger struct{}

func (l *NullLogger) PhaseStart(phase string, totalItems int) {}

func (l *NullLogger) ItemProcessed(phase string, item string, action string) {}

func (l *NullLogger) PhaseComplete(phase string, processedItems int) {}

func (l *NullLogger) Error(phase string, item string, err error) {}

// QuietLogger prints only the actions that change something, one per line,
// and errors.
type QuietLogger struct {
	Out io.Writer
	mu  sync.Mutex
}

func (l *QuietLogger) PhaseStart(phase string, totalItems int) {}

func (l *QuietLogger) ItemProcessed(phase string, item string, action string) {
	if action == "skip" || action == "suppressed" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out(), "%s: %s\n", action, item)
}

func (l *QuietLogger) PhaseComplete(phase string, processedItems int) {}

func (l *QuietLogger) Error(phase string, item string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", item, err)
}

func (l *QuietLogger) out() io.Writer {
	if l.Out == nil {
		return os.Stdout
	}
	return l.Out
}
