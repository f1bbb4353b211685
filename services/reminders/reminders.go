// Package reminders nudges students who have not ordered and alerts the
// producer dashboard about them.
package reminders

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"messmate/pkg/apperr"
	"messmate/pkg/bus"
	"messmate/pkg/calendar"
	"messmate/services/notify"
	"messmate/services/store"
)

// Event types published on the producer topic.
const (
	EventReminderSent  = "reminder.sent"
	EventProducerAlert = "producer.alert"
)

// Store lists the students a reminder targets.
type Store interface {
	StudentsWithoutOrder(ctx context.Context, day string) ([]store.User, error)
}

// Sender delivers one notification to many users.
type Sender interface {
	SendBulk(ctx context.Context, emails []string, n notify.Notification) notify.Summary
}

// Service runs the reminder jobs.
type Service struct {
	store  Store
	sender Sender
	broker bus.Broker
	cal    *calendar.Calendar
	log    zerolog.Logger
}

// New wires a Service. broker may be nil.
func New(s Store, sender Sender, b bus.Broker, cal *calendar.Calendar, log zerolog.Logger) *Service {
	return &Service{store: s, sender: sender, broker: b, cal: cal, log: log.With().Str("component", "reminders").Logger()}
}

// Student is a user named in a producer alert.
type Student struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Alert reports who has not ordered today.
type Alert struct {
	Count    int       `json:"count"`
	Message  string    `json:"message"`
	Students []Student `json:"users"`
}

// DailyReminder pushes a daily_reminder to every student with no order today
// who keeps daily reminders enabled. Running it again resends.
func (s *Service) DailyReminder(ctx context.Context) (notify.Summary, error) {
	day := s.cal.Today()
	users, err := s.store.StudentsWithoutOrder(ctx, day)
	if err != nil {
		return notify.Summary{}, fmt.Errorf("list students without order: %w", err)
	}

	var emails []string
	for _, u := range users {
		if u.Preferences.DailyReminder {
			emails = append(emails, u.Email)
		}
	}
	s.log.Info().Str("day", day).Int("students", len(emails)).Msg("daily reminder")
	if len(emails) == 0 {
		return notify.Summary{}, nil
	}

	sum := s.sender.SendBulk(ctx, emails, notify.Notification{
		Type:     store.NotifyDailyReminder,
		Template: "daily_reminder",
		URL:      "/dashboard",
		Action:   "order_now",
	})
	s.publish(ctx, EventReminderSent, map[string]any{
		"count":   len(emails),
		"sent":    sum.Successful,
		"message": fmt.Sprintf("Daily reminder sent to %d students", len(emails)),
	})
	return sum, nil
}

// ProducerAlert publishes the list of students who have not ordered today.
func (s *Service) ProducerAlert(ctx context.Context) (*Alert, error) {
	users, err := s.store.StudentsWithoutOrder(ctx, s.cal.Today())
	if err != nil {
		return nil, fmt.Errorf("list students without order: %w", err)
	}

	alert := &Alert{Count: len(users), Students: make([]Student, 0, len(users))}
	for _, u := range users {
		alert.Students = append(alert.Students, Student{Name: u.Name, Email: u.Email})
	}
	alert.Message = fmt.Sprintf("%d students haven't ordered yet today", alert.Count)

	s.publish(ctx, EventProducerAlert, alert)
	return alert, nil
}

// PaymentReminders pushes the last-call reminder to the given users.
func (s *Service) PaymentReminders(ctx context.Context, emails []string) (notify.Summary, error) {
	if len(emails) == 0 {
		return notify.Summary{}, apperr.Validationf("no users specified")
	}
	sum := s.sender.SendBulk(ctx, emails, notify.Notification{
		Type:     store.NotifyPaymentReminder,
		Template: "payment_reminder",
		URL:      "/dashboard",
		Action:   "order_now",
	})
	return sum, nil
}

func (s *Service) publish(ctx context.Context, kind string, data any) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, bus.TopicProducer, bus.Event{Type: kind, Data: data}); err != nil {
		s.log.Warn().Err(err).Str("event", kind).Msg("publish event")
	}
}
