package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	base     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput redirects all subsequent log lines to w (e.g. a MultiWriter
// mirroring stdout into a file).
func SetOutput(w io.Writer) {
	mu.Lock()
	base = build(w)
	mu.Unlock()
}

// SetLevel accepts debug/info/warn/error; anything else falls back to info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func active() *slog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base = build(os.Stdout)
	}
	return base
}

func Debugf(format string, v ...any) { active().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { active().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { active().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { active().Error(fmt.Sprintf(format, v...)) }

// Scoped returns a logger that prefixes every line with a component tag,
// used by the per-trade monitor loops so interleaved output stays readable.
type Scoped struct {
	tag string
}

func WithTag(tag string) Scoped { return Scoped{tag: strings.TrimSpace(tag)} }

func (s Scoped) prefix(msg string) string {
	if s.tag == "" {
		return msg
	}
	return "[" + s.tag + "] " + msg
}

func (s Scoped) Debugf(format string, v ...any) { Debugf("%s", s.prefix(fmt.Sprintf(format, v...))) }
func (s Scoped) Infof(format string, v ...any)  { Infof("%s", s.prefix(fmt.Sprintf(format, v...))) }
func (s Scoped) Warnf(format string, v ...any)  { Warnf("%s", s.prefix(fmt.Sprintf(format, v...))) }
func (s Scoped) Errorf(format string, v ...any) { Errorf("%s", s.prefix(fmt.Sprintf(format, v...))) }
