// Package notify turns push messages into notifications for connected client
// windows and handles clicks on them.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/icon-72x72.png"
	DefaultURL   = "/"

	ActionOpen  = "open"
	ActionClose = "close"
)

// DefaultVibrate is the vibration pattern in milliseconds.
var DefaultVibrate = []int{100, 50, 100}

// ErrInvalidPayload wraps every push payload that fails to decode or validate.
var ErrInvalidPayload = errors.New("invalid push payload")

// Payload is the body of an inbound push message.
type Payload struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Data is the data attached to a notification.
type Data struct {
	URL string `json:"url"`
}

// Notification is what client windows display.
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParsePayload decodes and validates a push message body.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p.URL == "" {
		p.URL = DefaultURL
	}
	return p, nil
}

// Build makes the notification shown for p.
func Build(p Payload) Notification {
	url := p.URL
	if url == "" {
		url = DefaultURL
	}
	return Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    DefaultIcon,
		Badge:   DefaultBadge,
		Vibrate: append([]int(nil), DefaultVibrate...),
		Data:    Data{URL: url},
		Actions: []Action{
			{Action: ActionOpen, Title: "Open"},
			{Action: ActionClose, Title: "Close"},
		},
	}
}
