package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoClients is returned by Click when no window is connected to focus or
// open.
var ErrNoClients = errors.New("no client windows connected")

// Windows is the set of connected client windows.
type Windows interface {
	Clients() []ClientInfo
	Send(id string, msg Message) error
	Broadcast(msg Message) int
}

// Metrics is the subset of metrics the dispatcher records.
type Metrics interface {
	Notified(event string)
}

// Click is a click on a notification.
type Click struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// Click outcomes.
const (
	OutcomeDismissed = "dismissed"
	OutcomeFocused   = "focused"
	OutcomeOpened    = "opened"
)

// ClickResult tells what a click did.
type ClickResult struct {
	Outcome  string `json:"outcome"`
	ClientID string `json:"client_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Dispatcher shows notifications and handles clicks.
type Dispatcher struct {
	windows Windows
	metrics Metrics
}

func NewDispatcher(windows Windows, metrics Metrics) *Dispatcher {
	return &Dispatcher{windows: windows, metrics: metrics}
}

func (d *Dispatcher) record(event string) {
	if d.metrics != nil {
		d.metrics.Notified(event)
	}
}

// Push validates a push message and shows the notification on every window.
// It returns the notification and how many windows received it.
func (d *Dispatcher) Push(ctx context.Context, data []byte) (Notification, int, error) {
	p, err := ParsePayload(data)
	if err != nil {
		d.record("invalid")
		return Notification{}, 0, err
	}
	n := Build(p)
	shown := d.windows.Broadcast(Message{Type: MessageNotification, Notification: &n})
	slog.Info("Notification shown", "title", n.Title, "url", n.Data.URL, "windows", shown)
	d.record("shown")
	return n, shown, nil
}

// Click handles a notification click. The close action only dismisses.
// Otherwise the first window whose URL contains the target is focused, or a
// new window on the target is opened.
func (d *Dispatcher) Click(ctx context.Context, c Click) (ClickResult, error) {
	if c.Action == ActionClose {
		d.record(OutcomeDismissed)
		return ClickResult{Outcome: OutcomeDismissed}, nil
	}
	target := c.URL
	if target == "" {
		target = DefaultURL
	}

	clients := d.windows.Clients()
	for _, cl := range clients {
		if !strings.Contains(cl.URL, target) {
			continue
		}
		if err := d.windows.Send(cl.ID, Message{Type: MessageFocus, URL: target}); err != nil {
			continue
		}
		d.record(OutcomeFocused)
		return ClickResult{Outcome: OutcomeFocused, ClientID: cl.ID, URL: target}, nil
	}

	for _, cl := range clients {
		if err := d.windows.Send(cl.ID, Message{Type: MessageOpen, URL: target}); err != nil {
			continue
		}
		d.record(OutcomeOpened)
		return ClickResult{Outcome: OutcomeOpened, ClientID: cl.ID, URL: target}, nil
	}

	d.record("no_clients")
	return ClickResult{}, ErrNoClients
}
