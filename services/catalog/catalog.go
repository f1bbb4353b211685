// Package catalog manages the meal menu and student ratings.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"messmate/pkg/apperr"
	"messmate/pkg/bus"
	"messmate/pkg/media"
	"messmate/pkg/validate"
	"messmate/services/store"
)

const (
	imageFolder = "meals"

	// EventRatingUpdated is published on the ratings topic.
	EventRatingUpdated = "rating.updated"
)

//go:embed menu.yaml
var defaultMenu []byte

// Service is the meal catalog.
type Service struct {
	store  *store.Store
	media  media.Store
	broker bus.Broker
	log    zerolog.Logger
}

// New wires a Service.
func New(s *store.Store, m media.Store, b bus.Broker, log zerolog.Logger) *Service {
	if m == nil {
		m = media.Disabled{}
	}
	return &Service{store: s, media: m, broker: b, log: log.With().Str("component", "catalog").Logger()}
}

// MealInput creates a meal.
type MealInput struct {
	Name        string  `json:"name" validate:"notblank"`
	Price       float64 `json:"price" validate:"gt=0"`
	Description string  `json:"description"`
}

// MealUpdate changes the non-nil fields of a meal.
type MealUpdate struct {
	Name        *string  `json:"name" validate:"omitempty,notblank"`
	Price       *float64 `json:"price" validate:"omitempty,gt=0"`
	Description *string  `json:"description"`
}

// List returns the menu ordered by name.
func (s *Service) List(ctx context.Context) ([]store.Meal, error) {
	return s.store.ListMeals(ctx)
}

// Get returns the meal called name.
func (s *Service) Get(ctx context.Context, name string) (*store.Meal, error) {
	m, err := s.store.MealByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("meal not found")
		}
		return nil, err
	}
	return m, nil
}

// Create adds a meal, uploading img first when given.
func (s *Service) Create(ctx context.Context, in MealInput, img *media.File) (*store.Meal, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	m := &store.Meal{
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Description: strings.TrimSpace(in.Description),
	}
	if img != nil {
		obj, err := s.upload(ctx, img)
		if err != nil {
			return nil, err
		}
		m.Image, m.ImageID = obj.URL, obj.StorageID
	}

	if err := s.store.CreateMeal(ctx, m); err != nil {
		s.destroy(ctx, m.ImageID)
		if store.IsDuplicate(err) {
			return nil, apperr.Conflictf("meal %q already exists", m.Name)
		}
		return nil, err
	}

	s.log.Info().Str("meal", m.Name).Float64("price", m.Price).Msg("meal created")
	return m, nil
}

// Update changes a meal. A new image replaces and destroys the old one.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in MealUpdate, img *media.File) (*store.Meal, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	current, err := s.store.MealByID(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, apperr.NotFoundf("meal not found")
		}
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != nil {
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Price != nil {
		updates["price"] = *in.Price
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}

	var uploaded media.Object
	if img != nil {
		uploaded, err = s.upload(ctx, img)
		if err != nil {
			return nil, err
		}
		updates["image"] = uploaded.URL
		updates["image_id"] = uploaded.StorageID
	}
	if len(updates) == 0 {
		return current, nil
	}

	// Ratings are keyed by name, so a rename carries them along.
	err = s.store.Tx(ctx, func(tx *store.Store) error {
		if err := tx.UpdateMeal(ctx, id, updates); err != nil {
			return err
		}
		if name, ok := updates["name"].(string); ok && name != current.Name {
			moved, err := tx.RenameMealRatings(ctx, current.Name, name)
			if err != nil {
				return err
			}
			s.log.Info().Str("from", current.Name).Str("to", name).Int64("ratings", moved).Msg("meal renamed")
		}
		return nil
	})
	if err != nil {
		s.destroy(ctx, uploaded.StorageID)
		if store.IsDuplicate(err) {
			return nil, apperr.Conflictf("meal %q already exists", updates["name"])
		}
		return nil, err
	}
	if img != nil {
		s.destroy(ctx, current.ImageID)
	}

	return s.store.MealByID(ctx, id)
}

// Delete removes a meal and its image.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.store.MealByID(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFoundf("meal not found")
		}
		return err
	}
	err = s.store.Tx(ctx, func(tx *store.Store) error {
		if err := tx.DeleteMeal(ctx, id); err != nil {
			return err
		}
		_, err := tx.DeleteMealRatings(ctx, m.Name)
		return err
	})
	if err != nil {
		return err
	}
	s.destroy(ctx, m.ImageID)
	s.log.Info().Str("meal", m.Name).Msg("meal deleted")
	return nil
}

// RateRequest is a student's rating of a meal.
type RateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	MealName string `json:"mealName" validate:"notblank"`
	Rating   int    `json:"rating" validate:"min=1,max=5"`
}

// RatingSummary is the recomputed aggregate of a meal, also published on the
// ratings topic.
type RatingSummary struct {
	MealName     string  `json:"mealName"`
	AvgRating    float64 `json:"avgRating"`
	TotalRatings int     `json:"totalRatings"`
}

// Rate records the user's rating, replacing an earlier one, and recomputes
// the meal's aggregate from every current rating.
func (s *Service) Rate(ctx context.Context, req RateRequest) (*RatingSummary, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	var sum RatingSummary
	err := s.store.Tx(ctx, func(tx *store.Store) error {
		user, err := tx.UserByEmail(ctx, req.Email)
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFoundf("user not found")
			}
			return err
		}
		meal, err := tx.MealByName(ctx, strings.TrimSpace(req.MealName))
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFoundf("meal not found")
			}
			return err
		}

		if err := tx.UpsertRating(ctx, user.ID, meal.Name, req.Rating); err != nil {
			return err
		}
		ratings, err := tx.RatingsForMeal(ctx, meal.Name)
		if err != nil {
			return err
		}
		avg := Average(ratings)
		if err := tx.SetMealRatings(ctx, meal.Name, ratings, avg); err != nil {
			return err
		}
		sum = RatingSummary{MealName: meal.Name, AvgRating: avg, TotalRatings: len(ratings)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.broker != nil {
		if err := s.broker.Publish(ctx, bus.TopicRatings, bus.Event{Type: EventRatingUpdated, Data: sum}); err != nil {
			s.log.Warn().Err(err).Str("meal", sum.MealName).Msg("publish rating update")
		}
	}
	return &sum, nil
}

// Average returns the mean of ratings rounded to one decimal, or 0.
func Average(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r
	}
	return math.Round(float64(total)/float64(len(ratings))*10) / 10
}

type menuFile struct {
	Meals []struct {
		Name        string  `yaml:"name"`
		Price       float64 `yaml:"price"`
		Description string  `yaml:"description"`
	} `yaml:"meals"`
}

// LoadMenu parses a YAML menu document.
func LoadMenu(data []byte) ([]store.Meal, error) {
	var f menuFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse menu: %w", err)
	}
	meals := make([]store.Meal, 0, len(f.Meals))
	for i, m := range f.Meals {
		if strings.TrimSpace(m.Name) == "" || m.Price <= 0 {
			return nil, fmt.Errorf("menu entry %d: name and a positive price are required", i)
		}
		meals = append(meals, store.Meal{Name: strings.TrimSpace(m.Name), Price: m.Price, Description: m.Description})
	}
	return meals, nil
}

// Seed inserts the embedded default menu, skipping names already taken.
func (s *Service) Seed(ctx context.Context) (int64, error) {
	meals, err := LoadMenu(defaultMenu)
	if err != nil {
		return 0, err
	}
	n, err := s.store.SeedMeals(ctx, meals)
	if err != nil {
		return 0, fmt.Errorf("seed meals: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("meals", n).Msg("default menu seeded")
	}
	return n, nil
}

func (s *Service) upload(ctx context.Context, img *media.File) (media.Object, error) {
	obj, err := s.media.Upload(ctx, imageFolder, img.Filename, img.ContentType, img.Data)
	if err != nil {
		if errors.Is(err, media.ErrDisabled) {
			return media.Object{}, apperr.Wrap(apperr.Precondition, err, "")
		}
		return media.Object{}, apperr.Wrap(apperr.Upstream, err, "image upload failed")
	}
	return obj, nil
}

// destroy removes a stored image. Failures only leave an orphan behind.
func (s *Service) destroy(ctx context.Context, storageID string) {
	if storageID == "" {
		return
	}
	if err := s.media.Destroy(ctx, storageID); err != nil {
		s.log.Warn().Err(err).Str("storage_id", storageID).Msg("destroy image")
	}
}
