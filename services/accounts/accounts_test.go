package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"messmate/pkg/apperr"
	"messmate/pkg/calendar"
	"messmate/pkg/media"
	"messmate/services/store"
	"messmate/services/store/storetest"
)

type fakeGoogle struct {
	ids map[string]Identity
}

func (f fakeGoogle) Verify(_ context.Context, raw string) (Identity, error) {
	id, ok := f.ids[raw]
	if !ok {
		return Identity{}, errors.New("token signature invalid")
	}
	return id, nil
}

type fakeMedia struct {
	uploads   []string
	destroyed []string
}

func (f *fakeMedia) Upload(_ context.Context, folder, filename, _ string, _ []byte) (media.Object, error) {
	id := folder + "/" + filename
	f.uploads = append(f.uploads, id)
	return media.Object{URL: "https://cdn.example/" + id, StorageID: id}, nil
}

func (f *fakeMedia) Destroy(_ context.Context, id string) error {
	f.destroyed = append(f.destroyed, id)
	return nil
}

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	media *fakeMedia
	svc   *Service
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	s := storetest.New(t)
	m := &fakeMedia{}
	google := fakeGoogle{ids: map[string]Identity{
		"good":     {Email: "Asha@VVCE.ac.in", Name: "Asha", Picture: "https://lh3.example/asha.png"},
		"personal": {Email: "asha@gmail.com", Name: "Asha"},
	}}
	opts.BcryptCost = bcrypt.MinCost
	cal := calendar.Fixed(time.FixedZone("IST", 19800), testNow)
	return fixture{store: s, media: m, svc: New(s, m, NewTokens("test-secret", time.Hour), google, cal, opts, zerolog.Nop())}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	sess, err := f.svc.Register(ctx, RegisterRequest{Name: "Ravi", Email: "Ravi@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "ravi@example.com", sess.User.Email)
	assert.Equal(t, store.RoleStudent, sess.User.Role)
	assert.False(t, sess.User.ProfileComplete)
	assert.NotEmpty(t, sess.AccessToken)

	claims, err := f.svc.tokens.Parse(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ravi@example.com", claims.Email())
	assert.Equal(t, store.RoleStudent, claims.Role)

	_, err = f.svc.Register(ctx, RegisterRequest{Name: "Ravi again", Email: "ravi@example.com", Password: "secret2"})
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.Equal(t, "email already registered", apperr.Reason(err))

	sess, err = f.svc.Login(ctx, LoginRequest{Email: "RAVI@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "Ravi", sess.User.Name)

	for _, req := range []LoginRequest{
		{Email: "ravi@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "secret1"},
	} {
		_, err := f.svc.Login(ctx, req)
		assert.True(t, apperr.Is(err, apperr.Validation))
		assert.Equal(t, "invalid email or password", apperr.Reason(err))
	}
}

func TestRegisterProducer(t *testing.T) {
	ctx := context.Background()

	closed := newFixture(t, Options{})
	_, err := closed.svc.Register(ctx, RegisterRequest{Name: "Canteen", Email: "canteen@example.com", Password: "secret1", Role: "producer"})
	assert.True(t, apperr.Is(err, apperr.Precondition))

	open := newFixture(t, Options{ProducerSignup: true})
	sess, err := open.svc.Register(ctx, RegisterRequest{Name: "Canteen", Email: "canteen@example.com", Password: "secret1", Role: "producer"})
	require.NoError(t, err)
	assert.Equal(t, store.RoleProducer, sess.User.Role)

	_, err = open.svc.Register(ctx, RegisterRequest{Name: "X", Email: "x@example.com", Password: "secret1", Role: "admin"})
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestLoginGoogle(t *testing.T) {
	f := newFixture(t, Options{AllowedEmailDomain: "@vvce.ac.in"})
	ctx := context.Background()

	sess, err := f.svc.LoginGoogle(ctx, GoogleRequest{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, "asha@vvce.ac.in", sess.User.Email)
	assert.Equal(t, "https://lh3.example/asha.png", sess.User.ProfilePhoto)
	assert.False(t, sess.User.ProfileComplete)
	firstID := sess.User.ID

	sess, err = f.svc.LoginGoogle(ctx, GoogleRequest{Token: "good"})
	require.NoError(t, err)
	assert.Equal(t, firstID, sess.User.ID, "second sign-in reuses the account")

	_, err = f.svc.LoginGoogle(ctx, GoogleRequest{Token: "personal"})
	assert.True(t, apperr.Is(err, apperr.Validation))
	assert.Equal(t, "please use your @vvce.ac.in email", apperr.Reason(err))

	_, err = f.svc.LoginGoogle(ctx, GoogleRequest{Token: "forged"})
	assert.True(t, apperr.Is(err, apperr.Validation))

	noGoogle := New(f.store, nil, NewTokens("k", 0), nil, calendar.Fixed(nil, testNow), Options{}, zerolog.Nop())
	_, err = noGoogle.LoginGoogle(ctx, GoogleRequest{Token: "good"})
	assert.True(t, apperr.Is(err, apperr.Precondition))
}

func TestCompleteProfileReplacesPhoto(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.Register(ctx, RegisterRequest{Name: "Ravi", Email: "ravi@example.com", Password: "secret1"})
	require.NoError(t, err)

	u, err := f.svc.CompleteProfile(ctx, ProfileRequest{Email: "ravi@example.com"}, &media.File{Filename: "a.jpg"})
	require.NoError(t, err)
	assert.True(t, u.ProfileComplete)
	assert.Equal(t, "https://cdn.example/profiles/a.jpg", u.ProfilePhoto)
	assert.Empty(t, f.media.destroyed)

	u, err = f.svc.CompleteProfile(ctx, ProfileRequest{Email: "ravi@example.com", Name: "Ravi K"}, &media.File{Filename: "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "Ravi K", u.Name)
	assert.Equal(t, "https://cdn.example/profiles/b.jpg", u.ProfilePhoto)
	assert.Equal(t, []string{"profiles/a.jpg"}, f.media.destroyed)

	_, err = f.svc.CompleteProfile(ctx, ProfileRequest{Email: "ghost@example.com"}, nil)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestUpdatePreferencesMerges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	storetest.Student(t, f.store, "ravi@example.com", "Ravi")

	off := false
	req := PreferencesRequest{Email: "ravi@example.com"}
	req.Preferences.DailyReminder = &off

	prefs, err := f.svc.UpdatePreferences(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, store.Preferences{DailyReminder: false, OrderUpdates: true, PaymentReminders: true}, prefs)

	u, err := f.svc.Get(ctx, "ravi@example.com")
	require.NoError(t, err)
	assert.Equal(t, prefs, u.Preferences)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	storetest.Student(t, f.store, "ravi@example.com", "Ravi")

	req := SubscribeRequest{Email: "ravi@example.com"}
	req.Subscription.Endpoint = "https://push.example/abc"
	req.Subscription.Keys.P256dh = "p"
	req.Subscription.Keys.Auth = "a"
	require.NoError(t, f.svc.Subscribe(ctx, req))

	u, err := f.svc.Get(ctx, "ravi@example.com")
	require.NoError(t, err)
	assert.Equal(t, store.PushSubscription{Endpoint: "https://push.example/abc", P256dh: "p", Auth: "a"}, u.Push)

	req.Email = "ghost@example.com"
	assert.True(t, apperr.Is(f.svc.Subscribe(ctx, req), apperr.NotFound))

	req.Subscription.Endpoint = ""
	assert.True(t, apperr.Is(f.svc.Subscribe(ctx, req), apperr.Validation))
}

func TestBookAndOrders(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	storetest.Student(t, f.store, "ravi@example.com", "Ravi")
	storetest.Meal(t, f.store, "Veg Biryani", 80)

	o, err := f.svc.Book(ctx, BookRequest{Email: "ravi@example.com", MealName: "Veg Biryani"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, o.Price)
	assert.Equal(t, "2026-10-16", o.Day)
	assert.False(t, o.Paid)

	orders, err := f.svc.Orders(ctx, "ravi@example.com")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "Veg Biryani", orders[0].MealName)

	_, err = f.svc.Book(ctx, BookRequest{Email: "ravi@example.com", MealName: "Pizza"})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = f.svc.Register(ctx, RegisterRequest{Name: "New", Email: "new@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{Email: "new@example.com", MealName: "Veg Biryani"})
	assert.True(t, apperr.Is(err, apperr.Precondition))

	orders, err = f.svc.Orders(ctx, "new@example.com")
	require.NoError(t, err)
	assert.NotNil(t, orders)
	assert.Empty(t, orders)
}

func TestAccessTokens(t *testing.T) {
	tokens := NewTokens("k1", time.Hour)
	tokens.now = func() time.Time { return testNow }

	raw, expires, err := tokens.Issue("ravi@example.com", store.RoleProducer)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour), expires)

	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, store.RoleProducer, claims.Role)

	_, err = NewTokens("k2", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tokens.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
