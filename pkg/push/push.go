// Package push delivers notifications to a user's registered device or
// browser subscription.
package push

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSubscriptionGone reports that the push service no longer accepts the
// subscription. Callers should forget it.
var ErrSubscriptionGone = errors.New("push subscription expired or unsubscribed")

// Subscription identifies a delivery target. Web Push uses all three fields;
// SNS stores the platform endpoint ARN in Endpoint.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

// Empty reports whether no subscription is set.
func (s Subscription) Empty() bool { return s.Endpoint == "" }

// Message is the payload shown to the user.
type Message struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func (m Message) encode() ([]byte, error) { return json.Marshal(m) }

// Pusher sends one message to one subscription.
type Pusher interface {
	Push(ctx context.Context, sub Subscription, msg Message) error
}

// Nop discards every message. Used when no provider is configured.
type Nop struct{}

func (Nop) Push(context.Context, Subscription, Message) error { return nil }
