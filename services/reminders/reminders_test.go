package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messmate/pkg/apperr"
	"messmate/pkg/bus"
	"messmate/pkg/calendar"
	"messmate/services/notify"
	"messmate/services/store"
	"messmate/services/store/storetest"
)

var ist = time.FixedZone("IST", 19800)

type bulkCall struct {
	emails []string
	n      notify.Notification
}

type fakeSender struct {
	mu    sync.Mutex
	calls []bulkCall
}

func (f *fakeSender) SendBulk(_ context.Context, emails []string, n notify.Notification) notify.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := append([]string(nil), emails...)
	sort.Strings(sorted)
	f.calls = append(f.calls, bulkCall{emails: sorted, n: n})
	return notify.Summary{Successful: len(emails)}
}

type fixture struct {
	store  *store.Store
	sender *fakeSender
	broker *bus.Memory
	svc    *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := storetest.New(t)
	sender := &fakeSender{}
	b := bus.NewMemory()
	t.Cleanup(b.Close)
	cal := calendar.Fixed(ist, time.Date(2026, 10, 16, 10, 0, 0, 0, ist))
	return fixture{store: s, sender: sender, broker: b, svc: New(s, sender, b, cal, zerolog.Nop())}
}

func next(t *testing.T, ch <-chan []byte) bus.Event {
	t.Helper()
	select {
	case raw := <-ch:
		var ev bus.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return bus.Event{}
	}
}

func TestDailyReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ordered := storetest.Student(t, f.store, "ordered@example.com", "Ordered")
	storetest.Student(t, f.store, "hungry@example.com", "Hungry")
	optedOut := storetest.Student(t, f.store, "quiet@example.com", "Quiet")
	require.NoError(t, f.store.SetPreferences(ctx, optedOut.Email, store.Preferences{OrderUpdates: true}))
	require.NoError(t, f.store.AddOrders(ctx, ordered.ID, []store.Order{
		{MealName: "Masala Dosa", Price: 40, OrderedAt: time.Now(), Day: "2026-10-16"},
	}))
	require.NoError(t, f.store.CreateUser(ctx, &store.User{Email: "canteen@example.com", Name: "Canteen", Role: store.RoleProducer}))

	events, err := f.broker.Subscribe(ctx, bus.TopicProducer)
	require.NoError(t, err)

	sum, err := f.svc.DailyReminder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Successful)

	require.Len(t, f.sender.calls, 1)
	call := f.sender.calls[0]
	assert.Equal(t, []string{"hungry@example.com"}, call.emails)
	assert.Equal(t, store.NotifyDailyReminder, call.n.Type)
	assert.Equal(t, "daily_reminder", call.n.Template)

	ev := next(t, events)
	assert.Equal(t, EventReminderSent, ev.Type)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, data["count"])

	_, err = f.svc.DailyReminder(ctx)
	require.NoError(t, err)
	assert.Len(t, f.sender.calls, 2, "reruns resend")
}

func TestDailyReminderNobodyToRemind(t *testing.T) {
	f := newFixture(t)

	sum, err := f.svc.DailyReminder(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Successful)
	assert.Empty(t, f.sender.calls)
}

func TestProducerAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storetest.Student(t, f.store, "b@example.com", "Bala")
	storetest.Student(t, f.store, "a@example.com", "Asha")

	events, err := f.broker.Subscribe(ctx, bus.TopicProducer)
	require.NoError(t, err)

	alert, err := f.svc.ProducerAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, alert.Count)
	assert.Equal(t, "2 students haven't ordered yet today", alert.Message)
	assert.Equal(t, []Student{{Name: "Asha", Email: "a@example.com"}, {Name: "Bala", Email: "b@example.com"}}, alert.Students)
	assert.Equal(t, EventProducerAlert, next(t, events).Type)
	assert.Empty(t, f.sender.calls, "the alert goes to the dashboard only")
}

func TestPaymentReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PaymentReminders(ctx, nil)
	assert.True(t, apperr.Is(err, apperr.Validation))

	sum, err := f.svc.PaymentReminders(ctx, []string{"b@example.com", "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Successful)
	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, store.NotifyPaymentReminder, f.sender.calls[0].n.Type)
	assert.Equal(t, "payment_reminder", f.sender.calls[0].n.Template)
}

func TestSchedulerSpecs(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(ist, time.Second, zerolog.Nop())

	require.NoError(t, Schedule(s, f.svc, func(context.Context) error { return nil }, "0 10 * * 1-6", "0 0 * * *"))

	friday := time.Date(2026, 10, 16, 11, 0, 0, 0, ist)
	assert.True(t, time.Date(2026, 10, 17, 10, 0, 0, 0, ist).Equal(s.Next("daily-reminder", friday)))
	saturday := time.Date(2026, 10, 17, 11, 0, 0, 0, ist)
	assert.True(t, time.Date(2026, 10, 19, 10, 0, 0, 0, ist).Equal(s.Next("daily-reminder", saturday)), "no reminder on Sunday")
	assert.True(t, time.Date(2026, 10, 17, 0, 0, 0, 0, ist).Equal(s.Next("token-sweep", friday)))
	assert.True(t, s.Next("unknown", friday).IsZero())

	assert.Error(t, s.Add("daily-reminder", "0 9 * * *", nil))
	assert.Error(t, s.Add("broken", "every morning", nil))
}

func TestSchedulerRunAppliesTimeout(t *testing.T) {
	s := NewScheduler(time.UTC, 20*time.Millisecond, zerolog.Nop())

	var got error
	s.run("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	assert.True(t, errors.Is(got, context.DeadlineExceeded))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
