package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushConfig holds the VAPID key pair and contact used to sign requests.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
	HTTPClient webpush.HTTPClient
}

// WebPush sends browser notifications using the Web Push protocol.
type WebPush struct {
	cfg WebPushConfig
}

// NewWebPush validates cfg and returns a WebPush pusher.
func NewWebPush(cfg WebPushConfig) (*WebPush, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("webpush: VAPID key pair is required")
	}
	if cfg.Subject == "" {
		return nil, errors.New("webpush: subject is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPush{cfg: cfg}, nil
}

// PublicKey returns the VAPID public key clients subscribe with.
func (w *WebPush) PublicKey() string { return w.cfg.PublicKey }

func (w *WebPush) Push(ctx context.Context, sub Subscription, msg Message) error {
	if sub.Empty() {
		return errors.New("webpush: empty subscription")
	}
	payload, err := msg.encode()
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      w.cfg.HTTPClient,
		Subscriber:      w.cfg.Subject,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("webpush: push service returned %s", resp.Status)
	}
	return nil
}
