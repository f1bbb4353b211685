package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NormalizeEmail lowercases and trims an email so it can be used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u. A taken email yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	return translate(s.conn(ctx).Create(u).Error)
}

// UserByEmail loads a user without orders.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.conn(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UsersByEmails loads the users matching emails. Unknown emails are skipped.
func (s *Store) UsersByEmails(ctx context.Context, emails []string) ([]User, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(emails))
	for _, e := range emails {
		keys = append(keys, NormalizeEmail(e))
	}
	var users []User
	err := s.conn(ctx).Where("email IN ?", keys).Order("email").Find(&users).Error
	return users, translate(err)
}

// UpdateUser applies column updates to the user with id.
func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := s.conn(ctx).Model(&User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPushSubscription stores sub for email. An empty sub clears it.
func (s *Store) SetPushSubscription(ctx context.Context, email string, sub PushSubscription) error {
	res := s.conn(ctx).Model(&User{}).Where("email = ?", NormalizeEmail(email)).Updates(map[string]any{
		"push_endpoint": sub.Endpoint,
		"push_p256dh":   sub.P256dh,
		"push_auth":     sub.Auth,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPreferences replaces the notification preferences of email.
func (s *Store) SetPreferences(ctx context.Context, email string, p Preferences) error {
	res := s.conn(ctx).Model(&User{}).Where("email = ?", NormalizeEmail(email)).Updates(map[string]any{
		"pref_daily_reminder":    p.DailyReminder,
		"pref_order_updates":     p.OrderUpdates,
		"pref_payment_reminders": p.PaymentReminders,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerifiedToday overwrites the verification snapshot of the user.
func (s *Store) SetVerifiedToday(ctx context.Context, userID uuid.UUID, day string, at time.Time, meals []VerifiedMeal) error {
	return s.UpdateUser(ctx, userID, map[string]any{
		"verified_day":   day,
		"verified_at":    at.UTC(),
		"verified_meals": datatypes.JSONSlice[VerifiedMeal](meals),
	})
}

// StudentsWithoutOrder lists students with no order on day.
func (s *Store) StudentsWithoutOrder(ctx context.Context, day string) ([]User, error) {
	var users []User
	err := s.conn(ctx).
		Where("role = ?", RoleStudent).
		Where("NOT EXISTS (?)", s.db.Model(&Order{}).Select("1").Where("orders.user_id = users.id AND orders.day = ?", day)).
		Order("email").
		Find(&users).Error
	return users, translate(err)
}

// VerifiedOn lists users whose verification snapshot is for day.
func (s *Store) VerifiedOn(ctx context.Context, day string) ([]User, error) {
	var users []User
	err := s.conn(ctx).Where("verified_day = ?", day).Find(&users).Error
	return users, translate(err)
}
