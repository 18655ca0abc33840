// Package telegraph bridges hub lifecycle events to chat platforms
// (Slack, Discord). Delivery is best-effort and never sits on the
// lifecycle critical path: a lost notification costs nothing, the
// registry and runtime remain the source of truth.
package telegraph

import (
	"context"
	"log"
	"time"
)

// Severity levels for lifecycle events.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is a hub lifecycle event formatted for chat display.
type Event struct {
	Title    string  // headline, e.g. "Drone alpha created"
	Body     string  // detail text
	Severity string  // info, success, warning, error
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair rendered alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notifier delivers lifecycle events to one destination.
type Notifier interface {
	Send(ctx context.Context, evt Event) error
}

// Color returns the sidebar color hint for a severity.
func Color(severity string) string {
	switch severity {
	case SeveritySuccess:
		return "#36a64f"
	case SeverityWarning:
		return "#daa038"
	case SeverityError:
		return "#d00000"
	default:
		return "#439fe0"
	}
}

// Fanout delivers each event to every configured notifier. Individual
// failures are logged and do not stop delivery to the rest.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout returns a Fanout over the given notifiers. Nil entries are
// skipped so callers can pass optionally-configured adapters directly.
func NewFanout(notifiers ...Notifier) *Fanout {
	f := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Len returns the number of configured notifiers.
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

// Send delivers evt to all notifiers with a bounded per-event timeout.
func (f *Fanout) Send(ctx context.Context, evt Event) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, n := range f.notifiers {
		if err := n.Send(ctx, evt); err != nil {
			log.Printf("telegraph: send %q: %v", evt.Title, err)
		}
	}
	return nil
}
