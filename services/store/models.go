package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Roles a user can hold.
const (
	RoleStudent  = "student"
	RoleProducer = "producer"
)

// Preferences toggles the notification kinds a user receives.
type Preferences struct {
	DailyReminder    bool `json:"dailyReminder" gorm:"not null"`
	OrderUpdates     bool `json:"orderUpdates" gorm:"not null"`
	PaymentReminders bool `json:"paymentReminders" gorm:"not null"`
}

// DefaultPreferences enables every notification kind.
func DefaultPreferences() Preferences {
	return Preferences{DailyReminder: true, OrderUpdates: true, PaymentReminders: true}
}

// PushSubscription is the browser or device target for push messages.
type PushSubscription struct {
	Endpoint string `json:"endpoint" gorm:"type:text"`
	P256dh   string `json:"p256dh" gorm:"type:text"`
	Auth     string `json:"auth" gorm:"type:text"`
}

// VerifiedMeal is one line of the verification snapshot.
type VerifiedMeal struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"totalPrice"`
}

// VerifiedToday records the most recent day a producer verified the user's
// orders.
type VerifiedToday struct {
	Day   string                            `json:"date" gorm:"type:text;index"`
	At    *time.Time                        `json:"verifiedAt"`
	Meals datatypes.JSONSlice[VerifiedMeal] `json:"meals" gorm:"type:jsonb"`
}

// Verified reports whether the snapshot is for day.
func (v VerifiedToday) Verified(day string) bool { return v.Day != "" && v.Day == day }

// User is a student or producer account keyed by email.
type User struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	Email           string           `json:"email" gorm:"type:text;uniqueIndex;not null"`
	Name            string           `json:"name" gorm:"type:text;not null"`
	PasswordHash    string           `json:"-" gorm:"type:text"`
	Role            string           `json:"role" gorm:"type:text;not null;index"`
	ProfileComplete bool             `json:"profileComplete" gorm:"not null"`
	ProfilePhoto    string           `json:"profilePhoto" gorm:"type:text"`
	ProfilePhotoID  string           `json:"-" gorm:"type:text"`
	Push            PushSubscription `json:"pushSubscription" gorm:"embedded;embeddedPrefix:push_"`
	Preferences     Preferences      `json:"notificationPreferences" gorm:"embedded;embeddedPrefix:pref_"`
	VerifiedToday   VerifiedToday    `json:"verifiedToday" gorm:"embedded;embeddedPrefix:verified_"`
	CreatedAt       time.Time        `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time        `json:"updatedAt" gorm:"autoUpdateTime"`

	Orders []Order `json:"orders,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Order is one meal a user ordered. MealName, Price and OrderedAt never change
// after insert.
type Order struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"-" gorm:"type:uuid;not null;index:idx_orders_user_day"`
	MealName  string    `json:"mealName" gorm:"type:text;not null"`
	Price     float64   `json:"price" gorm:"not null"`
	OrderedAt time.Time `json:"date" gorm:"not null"`
	Day       string    `json:"dayKey" gorm:"type:text;not null;index:idx_orders_user_day;index"`
	Paid      bool      `json:"paid" gorm:"not null"`
	Token     string    `json:"token,omitempty" gorm:"type:text"`
	DayLabel  string    `json:"day,omitempty" gorm:"type:text"`
	Batch     string    `json:"batch,omitempty" gorm:"type:text"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Meal is a catalog entry. AvgRating and TotalRatings are derived from Ratings.
type Meal struct {
	ID           uuid.UUID                `json:"id" gorm:"type:uuid;primaryKey"`
	Name         string                   `json:"name" gorm:"type:text;uniqueIndex;not null"`
	Price        float64                  `json:"price" gorm:"not null"`
	Description  string                   `json:"description" gorm:"type:text"`
	Image        string                   `json:"image" gorm:"type:text"`
	ImageID      string                   `json:"-" gorm:"type:text"`
	Ratings      datatypes.JSONSlice[int] `json:"-" gorm:"type:jsonb"`
	AvgRating    float64                  `json:"avgRating" gorm:"not null"`
	TotalRatings int                      `json:"totalRatings" gorm:"not null"`
	CreatedAt    time.Time                `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time                `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (m *Meal) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MealRating is a user's current rating for a meal. One row per (user, meal).
type MealRating struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_meal_ratings_user_meal"`
	MealName  string    `gorm:"type:text;not null;uniqueIndex:idx_meal_ratings_user_meal;index"`
	Rating    int       `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (r *MealRating) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// LineItem aggregates a day's orders of one meal.
type LineItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// JSONLines wraps items for a JSON column.
func JSONLines(items []LineItem) datatypes.JSONSlice[LineItem] {
	return datatypes.JSONSlice[LineItem](items)
}

// Token bundles a user's orders for one day. (Token, Day) and (UserEmail, Day)
// are both unique.
type Token struct {
	ID          uuid.UUID                     `json:"id" gorm:"type:uuid;primaryKey"`
	Token       string                        `json:"token" gorm:"type:text;not null;uniqueIndex:idx_tokens_token_day"`
	Day         string                        `json:"date" gorm:"type:text;not null;uniqueIndex:idx_tokens_token_day;uniqueIndex:idx_tokens_user_day"`
	Seq         int                           `json:"seq" gorm:"not null"`
	UserEmail   string                        `json:"userEmail" gorm:"type:text;not null;uniqueIndex:idx_tokens_user_day"`
	UserName    string                        `json:"userName" gorm:"type:text"`
	UserPhoto   string                        `json:"userPhoto" gorm:"type:text"`
	Meals       datatypes.JSONSlice[LineItem] `json:"meals" gorm:"type:jsonb"`
	TotalAmount float64                       `json:"totalAmount" gorm:"not null"`
	Paid        bool                          `json:"paid" gorm:"not null"`
	PaidAmount  float64                       `json:"paidAmount" gorm:"not null"`
	PaidAt      *time.Time                    `json:"paidAt,omitempty"`
	Verified    bool                          `json:"verified" gorm:"not null;index"`
	VerifiedAt  *time.Time                    `json:"verifiedAt,omitempty"`
	ExpiresAt   time.Time                     `json:"expiresAt" gorm:"not null;index"`
	CreatedAt   time.Time                     `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time                     `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (t *Token) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TokenCounter holds the last sequence issued for a day.
type TokenCounter struct {
	Day     string `gorm:"type:text;primaryKey"`
	LastSeq int    `gorm:"not null"`
}

// Notification kinds recorded in NotificationLog.
const (
	NotifyDailyReminder   = "daily_reminder"
	NotifyPaymentReminder = "payment_reminder"
	NotifyOrderUpdate     = "order_update"
	NotifyProducerAlert   = "producer_alert"
)

// NotificationLog is an append-only audit row for every push attempt.
type NotificationLog struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserEmail string    `json:"userEmail" gorm:"type:text;not null;index"`
	Type      string    `json:"type" gorm:"type:text;not null"`
	Title     string    `json:"title" gorm:"type:text"`
	Message   string    `json:"message" gorm:"type:text"`
	SentAt    time.Time `json:"sentAt" gorm:"not null"`
	Success   bool      `json:"success" gorm:"not null"`
	Error     string    `json:"error,omitempty" gorm:"type:text"`
}

func (n *NotificationLog) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
