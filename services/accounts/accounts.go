// Package accounts handles sign-up, sign-in, profiles and the per-user
// settings and bookings.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"messmate/pkg/apperr"
	"messmate/pkg/calendar"
	"messmate/pkg/media"
	"messmate/pkg/validate"
	"messmate/services/store"
)

const photoFolder = "profiles"

var errInvalidCredentials = apperr.Validationf("invalid email or password")

// Options configures a Service.
type Options struct {
	// AllowedEmailDomain restricts Google sign-in, e.g. "vvce.ac.in".
	AllowedEmailDomain string
	// ProducerSignup lets self-registration pick the producer role.
	ProducerSignup bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service implements the account operations.
type Service struct {
	store  *store.Store
	media  media.Store
	tokens *Tokens
	google IdentityVerifier
	cal    *calendar.Calendar
	opts   Options
	log    zerolog.Logger
}

// New wires a Service. google may be nil when Google sign-in is disabled.
func New(s *store.Store, m media.Store, t *Tokens, google IdentityVerifier, cal *calendar.Calendar, opts Options, log zerolog.Logger) *Service {
	if m == nil {
		m = media.Disabled{}
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	opts.AllowedEmailDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.AllowedEmailDomain)), "@")
	return &Service{
		store:  s,
		media:  m,
		tokens: t,
		google: google,
		cal:    cal,
		opts:   opts,
		log:    log.With().Str("component", "accounts").Logger(),
	}
}

// Session is returned by every sign-in path.
type Session struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	User        *store.User `json:"user"`
}

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"notblank"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=student producer"`
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = store.RoleStudent
	}
	if role == store.RoleProducer && !s.opts.ProducerSignup {
		return nil, apperr.Preconditionf("producer accounts cannot self-register")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &store.User{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         role,
		Preferences:  store.DefaultPreferences(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if store.IsDuplicate(err) {
			return nil, apperr.Conflictf("email already registered")
		}
		return nil, err
	}

	s.log.Info().Str("email", u.Email).Str("role", u.Role).Msg("user registered")
	return s.session(u)
}

// LoginRequest signs in with a password.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login checks the password and signs the user in.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	u, err := s.store.UserByEmail(ctx, req.Email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errInvalidCredentials
	}
	return s.session(u)
}

// GoogleRequest carries a Google Sign-In ID token.
type GoogleRequest struct {
	Token string `json:"token" validate:"required"`
}

// LoginGoogle signs in with a Google ID token, creating a student account on
// first use.
func (s *Service) LoginGoogle(ctx context.Context, req GoogleRequest) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if s.google == nil {
		return nil, apperr.Preconditionf("google sign-in is not configured")
	}

	id, err := s.google.Verify(ctx, req.Token)
	if err != nil {
		s.log.Warn().Err(err).Msg("google token rejected")
		return nil, apperr.Wrap(apperr.Validation, err, "authentication failed")
	}
	email := store.NormalizeEmail(id.Email)
	if d := s.opts.AllowedEmailDomain; d != "" && !strings.HasSuffix(email, "@"+d) {
		return nil, apperr.Validationf("please use your @%s email", d)
	}

	u, err := s.store.UserByEmail(ctx, email)
	switch {
	case err == nil:
	case store.IsNotFound(err):
		u = &store.User{
			Email:        email,
			Name:         id.Name,
			Role:         store.RoleStudent,
			ProfilePhoto: id.Picture,
			Preferences:  store.DefaultPreferences(),
		}
		if err := s.store.CreateUser(ctx, u); err != nil {
			if !store.IsDuplicate(err) {
				return nil, err
			}
			// Lost a race with a parallel first sign-in.
			if u, err = s.store.UserByEmail(ctx, email); err != nil {
				return nil, err
			}
		} else {
			s.log.Info().Str("email", email).Msg("user registered via google")
		}
	default:
		return nil, err
	}
	return s.session(u)
}

func (s *Service) session(u *store.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &Session{AccessToken: token, ExpiresAt: expires, User: u}, nil
}

// Get returns the user with email.
func (s *Service) Get(ctx context.Context, email string) (*store.User, error) {
	u, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("user not found")
		}
		return nil, err
	}
	return u, nil
}

// ProfileRequest completes a profile. Name is optional.
type ProfileRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

// CompleteProfile marks the profile complete, replacing the photo when one
// is given.
func (s *Service) CompleteProfile(ctx context.Context, req ProfileRequest, photo *media.File) (*store.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"profile_complete": true}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if photo != nil {
		obj, err := s.media.Upload(ctx, photoFolder, photo.Filename, photo.ContentType, photo.Data)
		if err != nil {
			if errors.Is(err, media.ErrDisabled) {
				return nil, apperr.Wrap(apperr.Precondition, err, "")
			}
			return nil, apperr.Wrap(apperr.Upstream, err, "photo upload failed")
		}
		updates["profile_photo"] = obj.URL
		updates["profile_photo_id"] = obj.StorageID
	}

	if err := s.store.UpdateUser(ctx, u.ID, updates); err != nil {
		return nil, err
	}
	if photo != nil && u.ProfilePhotoID != "" {
		if err := s.media.Destroy(ctx, u.ProfilePhotoID); err != nil {
			s.log.Warn().Err(err).Str("storage_id", u.ProfilePhotoID).Msg("destroy old profile photo")
		}
	}
	return s.Get(ctx, u.Email)
}

// PreferencesRequest changes the non-nil notification preferences.
type PreferencesRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Preferences struct {
		DailyReminder    *bool `json:"dailyReminder"`
		OrderUpdates     *bool `json:"orderUpdates"`
		PaymentReminders *bool `json:"paymentReminders"`
	} `json:"preferences"`
}

// UpdatePreferences merges the given preferences into the user's.
func (s *Service) UpdatePreferences(ctx context.Context, req PreferencesRequest) (store.Preferences, error) {
	if err := validate.Struct(req); err != nil {
		return store.Preferences{}, err
	}
	u, err := s.Get(ctx, req.Email)
	if err != nil {
		return store.Preferences{}, err
	}

	p := u.Preferences
	if v := req.Preferences.DailyReminder; v != nil {
		p.DailyReminder = *v
	}
	if v := req.Preferences.OrderUpdates; v != nil {
		p.OrderUpdates = *v
	}
	if v := req.Preferences.PaymentReminders; v != nil {
		p.PaymentReminders = *v
	}
	if err := s.store.SetPreferences(ctx, u.Email, p); err != nil {
		return store.Preferences{}, err
	}
	return p, nil
}

// SubscribeRequest stores a browser push subscription. Endpoint alone is
// enough for SNS platform endpoints.
type SubscribeRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Subscription struct {
		Endpoint string `json:"endpoint" validate:"required,url"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// Subscribe saves the user's push subscription, replacing any earlier one.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	err := s.store.SetPushSubscription(ctx, req.Email, store.PushSubscription{
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	})
	if store.IsNotFound(err) {
		return apperr.NotFoundf("user not found")
	}
	return err
}

// BookRequest orders a single meal for today.
type BookRequest struct {
	Email    string `json:"email" validate:"required,email"`
	MealName string `json:"mealName" validate:"notblank"`
}

// Book records one unpaid order at the catalog price.
func (s *Service) Book(ctx context.Context, req BookRequest) (*store.Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !u.ProfileComplete {
		return nil, apperr.Preconditionf("please complete your profile first")
	}

	meal, err := s.store.MealByName(ctx, strings.TrimSpace(req.MealName))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("meal not found")
		}
		return nil, err
	}

	now := s.cal.Now()
	orders := []store.Order{{MealName: meal.Name, Price: meal.Price, OrderedAt: now, Day: s.cal.DayKey(now)}}
	if err := s.store.AddOrders(ctx, u.ID, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// Orders lists the user's orders, newest first.
func (s *Service) Orders(ctx context.Context, email string) ([]store.Order, error) {
	u, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.OrdersByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []store.Order{}
	}
	return orders, nil
}
