// Package notify delivers push notifications to users and keeps the
// notification audit log.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"messmate/pkg/metrics"
	"messmate/pkg/push"
	"messmate/pkg/render"
	"messmate/services/store"
)

const (
	defaultConcurrency = 8
	defaultIcon        = "/icon-192x192.png"
)

var (
	// ErrNoSubscription is reported for users without a push target.
	ErrNoSubscription = errors.New("no subscription found")
	// ErrOptedOut is reported when the user disabled the notification kind.
	ErrOptedOut = errors.New("disabled in notification preferences")
)

// Store is the persistence the dispatcher needs.
type Store interface {
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	SetPushSubscription(ctx context.Context, email string, sub store.PushSubscription) error
	LogNotification(ctx context.Context, n *store.NotificationLog) error
}

// Notification describes what to send. Template names a render kind; Vars
// feed it, with Name and Email of each recipient added.
type Notification struct {
	Type     string
	Template string
	Vars     map[string]any
	URL      string
	Action   string
}

// Result is the outcome of one send.
type Result struct {
	Email   string `json:"email"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary aggregates a bulk send. Skipped recipients count as neither.
type Summary struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Results    []Result `json:"-"`
}

// Dispatcher sends rendered notifications through a push.Pusher.
type Dispatcher struct {
	store       Store
	pusher      push.Pusher
	engine      *render.Engine
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency caps the number of parallel sends in SendBulk.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// New returns a Dispatcher.
func New(s Store, p push.Pusher, e *render.Engine, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       s,
		pusher:      p,
		engine:      e,
		concurrency: defaultConcurrency,
		log:         log.With().Str("component", "notify").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers n to email. Delivery problems are reported in the Result and
// never returned as errors.
func (d *Dispatcher) Send(ctx context.Context, email string, n Notification) Result {
	res := d.send(ctx, email, n)
	outcome := "sent"
	switch {
	case res.Skipped:
		outcome = "skipped"
	case !res.Success:
		outcome = "failed"
	}
	metrics.Notifications.WithLabelValues(n.Type, outcome).Inc()
	return res
}

// SendBulk sends n to every email concurrently. One failure never stops the
// others.
func (d *Dispatcher) SendBulk(ctx context.Context, emails []string, n Notification) Summary {
	results := make([]Result, len(emails))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, email := range emails {
		g.Go(func() error {
			results[i] = d.Send(ctx, email, n)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results}
	for _, r := range results {
		switch {
		case r.Success:
			sum.Successful++
		case r.Skipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	d.log.Info().
		Str("type", n.Type).
		Int("successful", sum.Successful).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Msg("bulk notification complete")
	return sum
}

func (d *Dispatcher) send(ctx context.Context, email string, n Notification) Result {
	email = store.NormalizeEmail(email)
	res := Result{Email: email}
	log := d.log.With().Str("email", email).Str("type", n.Type).Logger()

	user, err := d.store.UserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			res.Error = ErrNoSubscription.Error()
			return res
		}
		log.Error().Err(err).Msg("load recipient")
		res.Error = err.Error()
		return res
	}
	if !wants(user.Preferences, n.Type) {
		res.Skipped = true
		res.Error = ErrOptedOut.Error()
		return res
	}

	sub := push.Subscription{Endpoint: user.Push.Endpoint, P256dh: user.Push.P256dh, Auth: user.Push.Auth}
	if sub.Empty() {
		log.Debug().Msg("no push subscription")
		res.Error = ErrNoSubscription.Error()
		return res
	}

	vars := make(map[string]any, len(n.Vars)+2)
	for k, v := range n.Vars {
		vars[k] = v
	}
	vars["Name"] = user.Name
	vars["Email"] = user.Email

	title, body, err := d.engine.Message(n.Template, vars)
	if err != nil {
		log.Error().Err(err).Str("template", n.Template).Msg("render notification")
		res.Error = err.Error()
		return res
	}

	msg := push.Message{Title: title, Body: body, Icon: defaultIcon, Data: map[string]any{}}
	if n.URL != "" {
		msg.Data["url"] = n.URL
	}
	if n.Action != "" {
		msg.Data["action"] = n.Action
	}

	pushErr := d.pusher.Push(ctx, sub, msg)
	entry := &store.NotificationLog{
		UserEmail: email,
		Type:      n.Type,
		Title:     title,
		Message:   body,
		SentAt:    d.now(),
		Success:   pushErr == nil,
	}
	if pushErr != nil {
		entry.Error = pushErr.Error()
	}
	if err := d.store.LogNotification(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("record notification log")
	}

	if pushErr != nil {
		log.Warn().Err(pushErr).Msg("push failed")
		if errors.Is(pushErr, push.ErrSubscriptionGone) {
			if err := d.store.SetPushSubscription(ctx, email, store.PushSubscription{}); err != nil {
				log.Warn().Err(err).Msg("clear expired subscription")
			} else {
				log.Info().Msg("removed expired subscription")
			}
		}
		res.Error = pushErr.Error()
		return res
	}

	log.Debug().Msg("push sent")
	res.Success = true
	return res
}

// wants reports whether prefs allow a notification of type kind.
func wants(prefs store.Preferences, kind string) bool {
	switch kind {
	case store.NotifyDailyReminder:
		return prefs.DailyReminder
	case store.NotifyPaymentReminder:
		return prefs.PaymentReminders
	case store.NotifyOrderUpdate:
		return prefs.OrderUpdates
	default:
		return true
	}
}
