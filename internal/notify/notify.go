// Package notify delivers toast notifications to the shopper.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the toast severity.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultDuration is how long a toast stays visible when none is given.
const DefaultDuration = 3 * time.Second

// Action is an optional link shown on a toast.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Toast is one notification.
type Toast struct {
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Level    Level         `json:"level"`
	Duration time.Duration `json:"duration"`
	Action   *Action       `json:"action,omitempty"`
	ShownAt  time.Time     `json:"shownAt"`
}

// Notifier shows toasts.
type Notifier interface {
	Notify(ctx context.Context, t Toast)
}

func (t Toast) withDefaults(now time.Time) Toast {
	if t.Level == "" {
		t.Level = LevelInfo
	}
	if t.Duration <= 0 {
		t.Duration = DefaultDuration
	}
	if t.ShownAt.IsZero() {
		t.ShownAt = now
	}
	return t
}

// Success builds a success toast.
func Success(title, message string) Toast {
	return Toast{Title: title, Message: message, Level: LevelSuccess}
}

// Error builds an error toast.
func Error(title, message string) Toast {
	return Toast{Title: title, Message: message, Level: LevelError}
}

// Info builds an info toast.
func Info(title, message string) Toast {
	return Toast{Title: title, Message: message, Level: LevelInfo}
}

// LogNotifier writes toasts to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs every toast.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs t. Error toasts are logged at warn.
func (n *LogNotifier) Notify(ctx context.Context, t Toast) {
	t = t.withDefaults(time.Now())
	level := slog.LevelInfo
	if t.Level == LevelError {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("toast_level", string(t.Level)),
		slog.String("title", t.Title),
		slog.String("message", t.Message),
		slog.Duration("duration", t.Duration),
	}
	if t.Action != nil {
		attrs = append(attrs, slog.String("action_url", t.Action.URL))
	}
	n.logger.LogAttrs(ctx, level, "toast", attrs...)
}

// DefaultRecorderSize bounds how many toasts a Recorder keeps.
const DefaultRecorderSize = 50

// Recorder keeps the most recent toasts and optionally forwards them.
type Recorder struct {
	next Notifier
	size int

	mu     sync.Mutex
	toasts []Toast
}

// NewRecorder creates a recorder keeping up to size toasts. next may be nil.
func NewRecorder(size int, next Notifier) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{next: next, size: size}
}

// Notify records t and forwards it.
func (r *Recorder) Notify(ctx context.Context, t Toast) {
	t = t.withDefaults(time.Now())

	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	if over := len(r.toasts) - r.size; over > 0 {
		r.toasts = append(r.toasts[:0:0], r.toasts[over:]...)
	}
	r.mu.Unlock()

	if r.next != nil {
		r.next.Notify(ctx, t)
	}
}

// Toasts returns the recorded toasts, oldest first.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Toast, len(r.toasts))
	copy(out, r.toasts)
	return out
}

// Last returns the most recent toast.
func (r *Recorder) Last() (Toast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.toasts) == 0 {
		return Toast{}, false
	}
	return r.toasts[len(r.toasts)-1], true
}

// Reset forgets every recorded toast.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.toasts = nil
	r.mu.Unlock()
}
