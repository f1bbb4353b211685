package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

// ListMeals returns the catalog ordered by name.
func (s *Store) ListMeals(ctx context.Context) ([]Meal, error) {
	var meals []Meal
	err := s.conn(ctx).Order("name").Find(&meals).Error
	return meals, translate(err)
}

// MealByName looks a meal up by its unique name.
func (s *Store) MealByName(ctx context.Context, name string) (*Meal, error) {
	var m Meal
	if err := s.conn(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// MealByID looks a meal up by id.
func (s *Store) MealByID(ctx context.Context, id uuid.UUID) (*Meal, error) {
	var m Meal
	if err := s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// CreateMeal inserts m. A taken name yields ErrDuplicate.
func (s *Store) CreateMeal(ctx context.Context, m *Meal) error {
	return translate(s.conn(ctx).Create(m).Error)
}

// UpdateMeal applies column updates to the meal with id.
func (s *Store) UpdateMeal(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := s.conn(ctx).Model(&Meal{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMeal removes the meal with id.
func (s *Store) DeleteMeal(ctx context.Context, id uuid.UUID) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&Meal{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedMeals inserts meals whose names are not taken yet.
func (s *Store) SeedMeals(ctx context.Context, meals []Meal) (int64, error) {
	if len(meals) == 0 {
		return 0, nil
	}
	res := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&meals)
	return res.RowsAffected, translate(res.Error)
}

// UpsertRating sets the user's rating for a meal, replacing any earlier one.
func (s *Store) UpsertRating(ctx context.Context, userID uuid.UUID, mealName string, rating int) error {
	r := MealRating{UserID: userID, MealName: mealName, Rating: rating}
	return translate(s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "meal_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "updated_at"}),
		}).
		Create(&r).Error)
}

// RenameMealRatings moves every rating of a meal to its new name.
func (s *Store) RenameMealRatings(ctx context.Context, from, to string) (int64, error) {
	res := s.conn(ctx).Model(&MealRating{}).Where("meal_name = ?", from).Update("meal_name", to)
	return res.RowsAffected, translate(res.Error)
}

// DeleteMealRatings removes every rating of a meal.
func (s *Store) DeleteMealRatings(ctx context.Context, mealName string) (int64, error) {
	res := s.conn(ctx).Where("meal_name = ?", mealName).Delete(&MealRating{})
	return res.RowsAffected, translate(res.Error)
}

// RatingsForMeal returns every current rating of the meal, oldest first.
func (s *Store) RatingsForMeal(ctx context.Context, mealName string) ([]int, error) {
	var ratings []int
	err := s.conn(ctx).Model(&MealRating{}).
		Where("meal_name = ?", mealName).
		Order("updated_at, id").
		Pluck("rating", &ratings).Error
	return ratings, translate(err)
}

// RatingsByUser maps meal name to the user's rating.
func (s *Store) RatingsByUser(ctx context.Context, userID uuid.UUID) (map[string]int, error) {
	var rows []MealRating
	if err := s.conn(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.MealName] = r.Rating
	}
	return out, nil
}

// SetMealRatings stores the recomputed rating aggregate of a meal.
func (s *Store) SetMealRatings(ctx context.Context, mealName string, ratings []int, avg float64) error {
	res := s.conn(ctx).Model(&Meal{}).Where("name = ?", mealName).Updates(map[string]any{
		"ratings":       datatypes.JSONSlice[int](ratings),
		"avg_rating":    avg,
		"total_ratings": len(ratings),
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
