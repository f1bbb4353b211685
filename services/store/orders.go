package store

import (
	"context"

	"github.com/google/uuid"
)

// AddOrders appends orders to the user's history.
func (s *Store) AddOrders(ctx context.Context, userID uuid.UUID, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	for i := range orders {
		orders[i].UserID = userID
		orders[i].OrderedAt = orders[i].OrderedAt.UTC()
	}
	return translate(s.conn(ctx).Create(&orders).Error)
}

// OrdersForDay returns the user's orders dated day, oldest first.
func (s *Store) OrdersForDay(ctx context.Context, userID uuid.UUID, day string) ([]Order, error) {
	var orders []Order
	err := s.conn(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Order("ordered_at, id").
		Find(&orders).Error
	return orders, translate(err)
}

// UnpaidOrdersForDay returns the user's unpaid orders dated day.
func (s *Store) UnpaidOrdersForDay(ctx context.Context, userID uuid.UUID, day string) ([]Order, error) {
	var orders []Order
	err := s.conn(ctx).
		Where("user_id = ? AND day = ? AND paid = ?", userID, day, false).
		Order("ordered_at, id").
		Find(&orders).Error
	return orders, translate(err)
}

// OrdersByUser returns the user's full history, newest first.
func (s *Store) OrdersByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	var orders []Order
	err := s.conn(ctx).
		Where("user_id = ?", userID).
		Order("ordered_at DESC, id").
		Find(&orders).Error
	return orders, translate(err)
}

// MarkOrdersPaid flips the user's unpaid orders for day to paid and stamps
// them with token. Already paid orders keep their stamp.
func (s *Store) MarkOrdersPaid(ctx context.Context, userID uuid.UUID, day, token string) (int64, error) {
	res := s.conn(ctx).Model(&Order{}).
		Where("user_id = ? AND day = ? AND paid = ?", userID, day, false).
		Updates(map[string]any{"paid": true, "token": token})
	return res.RowsAffected, translate(res.Error)
}

// MealCount is the per-meal aggregate used by stats.
type MealCount struct {
	MealName string `db:"meal_name" gorm:"column:meal_name"`
	Total    int64  `db:"total" gorm:"column:total"`
	Paid     int64  `db:"paid" gorm:"column:paid"`
}

// MealCountsSince aggregates orders dated on or after day.
func (s *Store) MealCountsSince(ctx context.Context, day string) ([]MealCount, error) {
	var rows []MealCount
	err := s.conn(ctx).Model(&Order{}).
		Select("meal_name, COUNT(*) AS total, SUM(CASE WHEN paid THEN 1 ELSE 0 END) AS paid").
		Where("day >= ?", day).
		Group("meal_name").
		Order("meal_name").
		Scan(&rows).Error
	return rows, translate(err)
}
