// Package verification moves tokens through payment confirmation and the
// producer's scan, and sweeps tokens that expired unverified.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messmate/pkg/apperr"
	"messmate/pkg/bus"
	"messmate/pkg/calendar"
	"messmate/pkg/metrics"
	"messmate/pkg/validate"
	"messmate/services/notify"
	"messmate/services/store"
	"messmate/services/tokens"
)

// State is the lifecycle position of a token.
type State string

const (
	StateCreated  State = "created"
	StatePaid     State = "paid"
	StateVerified State = "verified"
	StateExpired  State = "expired"
)

// StateOf derives the state of t at now. Verified tokens never expire.
func StateOf(t *store.Token, now time.Time) State {
	switch {
	case t.Verified:
		return StateVerified
	case now.After(t.ExpiresAt):
		return StateExpired
	case t.Paid:
		return StatePaid
	default:
		return StateCreated
	}
}

// Event types published on the producer topic.
const (
	EventTokenPaid     = "token.paid"
	EventTokenVerified = "token.verified"
)

var (
	ErrAlreadyVerified = errors.New("token already verified")
	ErrAlreadyPaid     = errors.New("token already paid")
)

// Notifier sends a push to one user.
type Notifier interface {
	Send(ctx context.Context, email string, n notify.Notification) notify.Result
}

// notifyTimeout bounds a push sent after the request has returned.
const notifyTimeout = 15 * time.Second

// Workflow runs the verification state machine.
type Workflow struct {
	store    *store.Store
	notifier Notifier
	broker   bus.Broker
	cal      *calendar.Calendar
	log      zerolog.Logger

	pending sync.WaitGroup
}

// New wires a Workflow.
func New(s *store.Store, n Notifier, b bus.Broker, cal *calendar.Calendar, log zerolog.Logger) *Workflow {
	return &Workflow{store: s, notifier: n, broker: b, cal: cal, log: log.With().Str("component", "verification").Logger()}
}

// Wait blocks until every push started by a transition has finished.
func (w *Workflow) Wait() { w.pending.Wait() }

// deliver sends n in the background. The push outlives the request, so it
// runs on a context detached from ctx's cancellation.
func (w *Workflow) deliver(ctx context.Context, email string, n notify.Notification) {
	ctx = context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if res := w.notifier.Send(ctx, email, n); !res.Success && !res.Skipped {
			w.log.Warn().Str("email", email).Str("template", n.Template).Str("error", res.Error).Msg("push not delivered")
		}
	}()
}

// day resolves a requested date to a day key, defaulting to today.
func (w *Workflow) day(raw string) (string, error) {
	if raw == "" {
		return w.cal.Today(), nil
	}
	day, err := w.cal.NormalizeDay(raw)
	if err != nil {
		return "", apperr.Validationf("date must look like 2026-10-16: %v", err)
	}
	return day, nil
}

// Now returns the workflow clock in the canteen zone.
func (w *Workflow) Now() time.Time { return w.cal.Now() }

// TokenValue accepts a token as a JSON string or number.
type TokenValue string

func (v *TokenValue) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*v = TokenValue(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("token must be a string or number")
	}
	*v = TokenValue(s)
	return nil
}

// PaymentRequest confirms a payment of Amount against today's Token.
type PaymentRequest struct {
	Token  TokenValue `json:"token" validate:"required"`
	Amount float64    `json:"amount" validate:"gte=0"`
}

// PaymentResult reports a confirmed payment.
type PaymentResult struct {
	Token      string    `json:"token"`
	UserEmail  string    `json:"userEmail"`
	Amount     float64   `json:"amount"`
	PaidAt     time.Time `json:"paidAt"`
	OrdersPaid int64     `json:"ordersPaid"`
}

// ConfirmPayment moves today's token from created to paid and flips the
// owner's unpaid orders of that day.
func (w *Workflow) ConfirmPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	now := w.cal.Now()
	value := string(req.Token)

	var res PaymentResult
	err := w.store.Tx(ctx, func(tx *store.Store) error {
		tok, err := tx.TokenByValue(ctx, value, w.cal.DayKey(now))
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFoundf("token not found")
			}
			return err
		}
		// A token reopened by a later checkout only owes the difference.
		outstanding := tok.TotalAmount - tok.PaidAmount
		switch {
		case tok.Verified:
			return apperr.Wrap(apperr.Conflict, ErrAlreadyVerified, "")
		case tok.Paid:
			return apperr.Wrap(apperr.Conflict, ErrAlreadyPaid, "")
		case math.Abs(outstanding-req.Amount) > store.PaidTolerance:
			if tok.PaidAmount > 0 {
				return apperr.Validationf("amount %.2f does not match outstanding %.2f of token total %.2f", req.Amount, outstanding, tok.TotalAmount)
			}
			return apperr.Validationf("amount %.2f does not match token total %.2f", req.Amount, tok.TotalAmount)
		}

		ok, err := tx.MarkTokenPaid(ctx, tok.ID, req.Amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Wrap(apperr.Conflict, ErrAlreadyPaid, "")
		}

		res = PaymentResult{Token: tok.Token, UserEmail: tok.UserEmail, Amount: req.Amount, PaidAt: now}

		owner, err := tx.UserByEmail(ctx, tok.UserEmail)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		res.OrdersPaid, err = tx.MarkOrdersPaid(ctx, owner.ID, tok.Day, tok.Token)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues(string(StatePaid)).Inc()
	w.log.Info().Str("token", res.Token).Str("email", res.UserEmail).Float64("amount", res.Amount).Msg("payment confirmed")

	w.deliver(ctx, res.UserEmail, notify.Notification{
		Type:     store.NotifyOrderUpdate,
		Template: "payment_confirmed",
		Vars:     map[string]any{"Amount": res.Amount, "Token": res.Token},
		URL:      "/dashboard",
	})
	w.publish(ctx, EventTokenPaid, res)
	return &res, nil
}

// ScanRequest identifies the user and day the producer is serving. Date is a
// day key; the "Fri Oct 16 2026" form older clients send is also accepted.
type ScanRequest struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
	Date      string `json:"date"`
}

// VerifyResult reports a verified order.
type VerifyResult struct {
	UserEmail  string               `json:"userEmail"`
	UserName   string               `json:"userName"`
	Token      string               `json:"token,omitempty"`
	Date       string               `json:"date"`
	Meals      []store.VerifiedMeal `json:"meals"`
	VerifiedAt time.Time            `json:"verifiedAt"`
}

// VerifyScan marks the user's orders and token for the day verified. A
// second scan fails with ErrAlreadyVerified and changes nothing.
func (w *Workflow) VerifyScan(ctx context.Context, req ScanRequest) (*VerifyResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	day, err := w.day(req.Date)
	if err != nil {
		return nil, err
	}
	now := w.cal.Now()

	var res VerifyResult
	err = w.store.Tx(ctx, func(tx *store.Store) error {
		user, err := tx.UserByEmail(ctx, req.UserEmail)
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFoundf("user not found")
			}
			return err
		}
		if user.VerifiedToday.Verified(day) {
			return apperr.Wrap(apperr.Conflict, ErrAlreadyVerified, "already verified")
		}

		orders, err := tx.OrdersForDay(ctx, user.ID, day)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return apperr.NotFoundf("no orders found for this date")
		}

		var stamp string
		tok, err := tx.TokenByUserDay(ctx, user.Email, day)
		switch {
		case err == nil:
			ok, err := tx.MarkTokenVerified(ctx, tok.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Wrap(apperr.Conflict, ErrAlreadyVerified, "already verified")
			}
			stamp = tok.Token
		case !store.IsNotFound(err):
			return err
		}

		if _, err := tx.MarkOrdersPaid(ctx, user.ID, day, stamp); err != nil {
			return err
		}
		meals := Snapshot(orders)
		if err := tx.SetVerifiedToday(ctx, user.ID, day, now, meals); err != nil {
			return err
		}

		res = VerifyResult{
			UserEmail:  user.Email,
			UserName:   user.Name,
			Token:      stamp,
			Date:       day,
			Meals:      meals,
			VerifiedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues(string(StateVerified)).Inc()
	w.log.Info().Str("email", res.UserEmail).Str("token", res.Token).Str("day", day).Msg("order verified")

	w.deliver(ctx, res.UserEmail, notify.Notification{
		Type:     store.NotifyOrderUpdate,
		Template: "order_verified",
		Vars:     map[string]any{"Token": res.Token},
		URL:      "/dashboard",
	})
	w.publish(ctx, EventTokenVerified, res)
	return &res, nil
}

// CheckVerified reports whether the user's orders for the day were verified.
// Unknown users are simply not verified.
func (w *Workflow) CheckVerified(ctx context.Context, req ScanRequest) (bool, error) {
	if err := validate.Struct(req); err != nil {
		return false, err
	}
	day, err := w.day(req.Date)
	if err != nil {
		return false, err
	}

	user, err := w.store.UserByEmail(ctx, req.UserEmail)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if user.VerifiedToday.Verified(day) {
		return true, nil
	}

	tok, err := w.store.TokenByUserDay(ctx, user.Email, day)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return tok.Verified, nil
}

// ScanResult is a decoded QR code with the current verification flag.
type ScanResult struct {
	Payload  tokens.Payload `json:"payload"`
	Verified bool           `json:"verified"`
}

// Scan decodes a raw QR string and looks up whether it was already served.
func (w *Workflow) Scan(ctx context.Context, raw string) (*ScanResult, error) {
	p, err := tokens.ParseScan(raw)
	if err != nil {
		return nil, err
	}
	verified, err := w.CheckVerified(ctx, ScanRequest{UserEmail: p.UserEmail, Date: p.Date})
	if err != nil {
		return nil, err
	}
	return &ScanResult{Payload: p, Verified: verified}, nil
}

// Sweep deletes tokens that expired unverified and counters of past days.
// It returns the number of tokens removed.
func (w *Workflow) Sweep(ctx context.Context) (int64, error) {
	now := w.cal.Now()

	n, err := w.store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	counters, err := w.store.DeleteCountersBefore(ctx, w.cal.DayKey(now))
	if err != nil {
		return n, fmt.Errorf("delete stale counters: %w", err)
	}

	metrics.TokensSwept.Add(float64(n))
	metrics.Transitions.WithLabelValues(string(StateExpired)).Add(float64(n))
	w.log.Info().Int64("tokens", n).Int64("counters", counters).Msg("expired tokens swept")
	return n, nil
}

// Snapshot aggregates orders into the verification meal list.
func Snapshot(orders []store.Order) []store.VerifiedMeal {
	index := make(map[string]int, len(orders))
	var meals []store.VerifiedMeal
	for _, o := range orders {
		if i, ok := index[o.MealName]; ok {
			meals[i].Quantity++
			meals[i].TotalPrice += o.Price
			continue
		}
		index[o.MealName] = len(meals)
		meals = append(meals, store.VerifiedMeal{Name: o.MealName, Quantity: 1, TotalPrice: o.Price})
	}
	return meals
}

func (w *Workflow) publish(ctx context.Context, kind string, data any) {
	if w.broker == nil {
		return
	}
	if err := w.broker.Publish(ctx, bus.TopicProducer, bus.Event{Type: kind, Data: data}); err != nil {
		w.log.Warn().Err(err).Str("event", kind).Msg("publish event")
	}
}
