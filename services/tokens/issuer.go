package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"messmate/pkg/apperr"
	"messmate/pkg/calendar"
	"messmate/pkg/metrics"
	"messmate/pkg/validate"
	"messmate/services/store"
)

// Repository is the persistence the issuer needs. *store.Store satisfies it.
type Repository interface {
	SequenceStore
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	MealByID(ctx context.Context, id uuid.UUID) (*store.Meal, error)
	MealByName(ctx context.Context, name string) (*store.Meal, error)
	AddOrders(ctx context.Context, userID uuid.UUID, orders []store.Order) error
	OrdersForDay(ctx context.Context, userID uuid.UUID, day string) ([]store.Order, error)
	UnpaidOrdersForDay(ctx context.Context, userID uuid.UUID, day string) ([]store.Order, error)
	TokenByValue(ctx context.Context, value, day string) (*store.Token, error)
	UpdateTokenMeals(ctx context.Context, id uuid.UUID, meals []store.LineItem, total float64, expiresAt time.Time) error
}

// Config holds token lifetimes.
type Config struct {
	CheckoutTTL time.Duration
	PaymentTTL  time.Duration
}

// Issuer runs checkout and pay, minting or merging the day's token.
type Issuer struct {
	repo Repository
	seq  *Sequencer
	cal  *calendar.Calendar
	cfg  Config
	log  zerolog.Logger
}

// NewIssuer wires an Issuer.
func NewIssuer(repo Repository, seq *Sequencer, cal *calendar.Calendar, cfg Config, log zerolog.Logger) *Issuer {
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = 30 * time.Minute
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 24 * time.Hour
	}
	return &Issuer{repo: repo, seq: seq, cal: cal, cfg: cfg, log: log.With().Str("component", "issuer").Logger()}
}

// OrderLine is one cart entry. Price is informational; the catalog price is
// recorded.
type OrderLine struct {
	MealID   string  `json:"mealId"`
	MealName string  `json:"mealName" validate:"required_without=MealID"`
	Price    float64 `json:"price"`
	Day      string  `json:"day"`
	Batch    string  `json:"batch"`
}

// CheckoutRequest is the cart a student submits.
type CheckoutRequest struct {
	Email  string      `json:"email" validate:"required,email"`
	Orders []OrderLine `json:"orders" validate:"required,min=1,dive"`
}

// Receipt describes the day's token after checkout or pay.
type Receipt struct {
	Token       string           `json:"token"`
	Meals       []store.LineItem `json:"meals"`
	TotalAmount float64          `json:"totalAmount"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	Paid        bool             `json:"paid"`
	Verified    bool             `json:"verified"`
	QRData      string           `json:"qrData"`
	QRCode      string           `json:"qrCode"`
}

// Checkout records the cart as orders and mints or merges today's token.
// Orders stay recorded when minting fails afterwards.
func (i *Issuer) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	user, err := i.student(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	now := i.cal.Now()
	today := i.cal.DayKey(now)

	if user.VerifiedToday.Verified(today) {
		return nil, apperr.Preconditionf("orders for today are already verified")
	}
	existing, err := i.repo.TokenByUserDay(ctx, user.Email, today)
	switch {
	case err == nil && existing.Verified:
		return nil, apperr.Preconditionf("orders for today are already verified")
	case err != nil && !store.IsNotFound(err):
		return nil, fmt.Errorf("load token: %w", err)
	}

	orders := make([]store.Order, 0, len(req.Orders))
	for _, line := range req.Orders {
		meal, err := i.meal(ctx, line)
		if err != nil {
			return nil, err
		}
		orders = append(orders, store.Order{
			MealName:  meal.Name,
			Price:     meal.Price,
			OrderedAt: now,
			Day:       today,
			DayLabel:  line.Day,
			Batch:     line.Batch,
		})
	}
	if err := i.repo.AddOrders(ctx, user.ID, orders); err != nil {
		return nil, fmt.Errorf("record orders: %w", err)
	}

	tok, err := i.ensure(ctx, user, today, now.Add(i.cfg.CheckoutTTL), false)
	if err != nil {
		i.log.Error().Err(err).Str("email", user.Email).Int("orders", len(orders)).Msg("checkout recorded orders but token failed")
		return nil, err
	}

	i.log.Info().Str("email", user.Email).Str("token", tok.Token).Float64("total", tok.TotalAmount).Msg("checkout")
	return i.receipt(tok)
}

// PayRequest asks for the payment QR of today's token.
type PayRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Pay ensures today's token covers the user's orders, extends its expiry to
// the payment window and returns it with a QR code.
func (i *Issuer) Pay(ctx context.Context, req PayRequest) (*Receipt, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	user, err := i.student(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	now := i.cal.Now()
	today := i.cal.DayKey(now)

	unpaid, err := i.repo.UnpaidOrdersForDay(ctx, user.ID, today)
	if err != nil {
		return nil, fmt.Errorf("load unpaid orders: %w", err)
	}
	if len(unpaid) == 0 {
		return nil, apperr.Preconditionf("no unpaid orders today")
	}

	tok, err := i.ensure(ctx, user, today, now.Add(i.cfg.PaymentTTL), true)
	if err != nil {
		return nil, err
	}
	return i.receipt(tok)
}

// Lookup returns today's token with value.
func (i *Issuer) Lookup(ctx context.Context, value string) (*store.Token, error) {
	tok, err := i.repo.TokenByValue(ctx, value, i.cal.Today())
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("token not found for today")
		}
		return nil, err
	}
	return tok, nil
}

func (i *Issuer) student(ctx context.Context, email string) (*store.User, error) {
	user, err := i.repo.UserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("user not found")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.ProfileComplete {
		return nil, apperr.Preconditionf("please complete your profile first")
	}
	return user, nil
}

func (i *Issuer) meal(ctx context.Context, line OrderLine) (*store.Meal, error) {
	var (
		meal *store.Meal
		err  error
	)
	if id, parseErr := uuid.Parse(line.MealID); parseErr == nil {
		meal, err = i.repo.MealByID(ctx, id)
	} else {
		meal, err = i.repo.MealByName(ctx, line.MealName)
	}
	if err != nil {
		if store.IsNotFound(err) {
			name := line.MealName
			if name == "" {
				name = line.MealID
			}
			return nil, apperr.NotFoundf("meal %q not found", name)
		}
		return nil, fmt.Errorf("load meal: %w", err)
	}
	return meal, nil
}

// ensure mints the user's token for day or merges the day's orders into the
// existing one. extend moves an existing token's expiry to expiresAt.
func (i *Issuer) ensure(ctx context.Context, user *store.User, day string, expiresAt time.Time, extend bool) (*store.Token, error) {
	existing, err := i.repo.TokenByUserDay(ctx, user.Email, day)
	if err == nil {
		return i.merge(ctx, existing, user.ID, expiresAt, extend)
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("load token: %w", err)
	}

	orders, err := i.repo.OrdersForDay(ctx, user.ID, day)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	lines, total := Aggregate(orders)

	tok, err := i.seq.Mint(ctx, store.Token{
		Day:         day,
		UserEmail:   user.Email,
		UserName:    user.Name,
		UserPhoto:   user.ProfilePhoto,
		Meals:       store.JSONLines(lines),
		TotalAmount: total,
		ExpiresAt:   expiresAt,
	})
	if errors.Is(err, ErrTokenExists) {
		// A concurrent request for the same user won the insert.
		existing, err := i.repo.TokenByUserDay(ctx, user.Email, day)
		if err != nil {
			return nil, fmt.Errorf("reload token: %w", err)
		}
		return i.merge(ctx, existing, user.ID, expiresAt, extend)
	}
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	return tok, nil
}

// merge recomputes tok's lines from every order the user placed on tok's day.
func (i *Issuer) merge(ctx context.Context, tok *store.Token, userID uuid.UUID, expiresAt time.Time, extend bool) (*store.Token, error) {
	orders, err := i.repo.OrdersForDay(ctx, userID, tok.Day)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	lines, total := Aggregate(orders)

	var newExpiry time.Time
	if extend {
		newExpiry = expiresAt
	}
	if err := i.repo.UpdateTokenMeals(ctx, tok.ID, lines, total, newExpiry); err != nil {
		return nil, fmt.Errorf("merge token: %w", err)
	}
	metrics.TokensMerged.Inc()

	merged := *tok
	merged.Meals = store.JSONLines(lines)
	merged.TotalAmount = total
	merged.Paid = tok.Paid && tok.PaidAmount >= total-store.PaidTolerance
	if extend {
		merged.ExpiresAt = expiresAt.UTC()
	}
	return &merged, nil
}

func (i *Issuer) receipt(tok *store.Token) (*Receipt, error) {
	data, err := PayloadFor(tok).Encode()
	if err != nil {
		return nil, err
	}
	png, err := QRCode(data)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Token:       tok.Token,
		Meals:       []store.LineItem(tok.Meals),
		TotalAmount: tok.TotalAmount,
		ExpiresAt:   tok.ExpiresAt,
		Paid:        tok.Paid,
		Verified:    tok.Verified,
		QRData:      data,
		QRCode:      png,
	}, nil
}
