package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "keydates/internal/log"
)

// DefaultTitle is shown when a trigger fires without a title in its payload.
const DefaultTitle = "Event Reminder"

// Payload is what a trigger carries from registration to fire time. It is a
// copy, never a reference into the event store: the process that fires the
// trigger may not have the collection loaded.
type Payload struct {
	Title string `json:"title"`
}

// Dispatcher is the fire-and-forget boundary the timer facility calls.
type Dispatcher interface {
	Dispatch(p Payload)
}

// Notifier renders a notification. Errors are reported to the Boundary,
// which logs them and never retries.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Boundary isolates a Notifier from the timer facility: a failing or
// panicking notifier is logged and swallowed here.
type Boundary struct {
	notifier Notifier
	fallback string
	timeout  time.Duration
}

// BoundaryOption configures a Boundary.
type BoundaryOption func(*Boundary)

// WithFallbackTitle overrides DefaultTitle.
func WithFallbackTitle(title string) BoundaryOption {
	return func(b *Boundary) {
		if title != "" {
			b.fallback = title
		}
	}
}

// WithTimeout bounds a single Notify call.
func WithTimeout(d time.Duration) BoundaryOption {
	return func(b *Boundary) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewBoundary wraps n.
func NewBoundary(n Notifier, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		notifier: n,
		fallback: DefaultTitle,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Text returns the message content for p.
func (b *Boundary) Text(p Payload) string {
	if p.Title == "" {
		return b.fallback
	}
	return p.Title
}

// Dispatch renders p. It never panics and never returns an error.
func (b *Boundary) Dispatch(p Payload) {
	text := b.Text(p)

	defer func() {
		if r := recover(); r != nil {
			appLog.Error("notify: notifier panicked", fmt.Errorf("%v", r), "title", text)
		}
	}()

	if b.notifier == nil {
		appLog.Warn("notify: no notifier configured; dropping", "title", text)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.notifier.Notify(ctx, text); err != nil {
		appLog.Error("notify: dispatch failed", err, "title", text)
		return
	}
	appLog.Debug("notify: dispatched", "title", text)
}

// LogNotifier writes the notification as an INFO log line. It is always
// enabled so headless hosts still leave a trace of fired reminders.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, text string) error {
	appLog.Info("reminder", "title", text)
	return nil
}

// Multi fans a notification out to every notifier; one failure does not
// stop the others. The joined error is returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
