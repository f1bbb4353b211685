package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"messmate/pkg/apperr"
	"messmate/pkg/media"
	"messmate/services/catalog"
)

func (a *API) handleListMeals(w http.ResponseWriter, r *http.Request) {
	meals, err := a.svc.Catalog.List(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meals)
}

func (a *API) handleGetMeal(w http.ResponseWriter, r *http.Request) {
	meal, err := a.svc.Catalog.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meal)
}

func (a *API) handleCreateMeal(w http.ResponseWriter, r *http.Request) {
	var (
		in  catalog.MealInput
		img *media.File
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			a.respondError(w, r, err)
			return
		}
		price, err := formPrice(r)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		in = catalog.MealInput{Name: r.FormValue("name"), Description: r.FormValue("description")}
		if price != nil {
			in.Price = *price
		}
		if img, err = formImage(r, "image"); err != nil {
			a.respondError(w, r, err)
			return
		}
	} else if !a.decode(w, r, &in) {
		return
	}

	meal, err := a.svc.Catalog.Create(r.Context(), in, img)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "meal": meal})
}

func (a *API) handleUpdateMeal(w http.ResponseWriter, r *http.Request) {
	id, ok := a.mealID(w, r)
	if !ok {
		return
	}

	var (
		in  catalog.MealUpdate
		img *media.File
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			a.respondError(w, r, err)
			return
		}
		var err error
		if in.Price, err = formPrice(r); err != nil {
			a.respondError(w, r, err)
			return
		}
		if v, ok := r.MultipartForm.Value["name"]; ok && len(v) > 0 {
			in.Name = &v[0]
		}
		if v, ok := r.MultipartForm.Value["description"]; ok && len(v) > 0 {
			in.Description = &v[0]
		}
		if img, err = formImage(r, "image"); err != nil {
			a.respondError(w, r, err)
			return
		}
	} else if !a.decode(w, r, &in) {
		return
	}

	meal, err := a.svc.Catalog.Update(r.Context(), id, in, img)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"meal": meal})
}

func (a *API) handleDeleteMeal(w http.ResponseWriter, r *http.Request) {
	id, ok := a.mealID(w, r)
	if !ok {
		return
	}
	if err := a.svc.Catalog.Delete(r.Context(), id); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, nil)
}

func (a *API) handleRate(w http.ResponseWriter, r *http.Request) {
	var req catalog.RateRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	sum, err := a.svc.Catalog.Rate(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"mealName":     sum.MealName,
		"avgRating":    sum.AvgRating,
		"totalRatings": sum.TotalRatings,
	})
}

func (a *API) mealID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, apperr.Validationf("invalid meal id"))
		return uuid.Nil, false
	}
	return id, true
}

// formPrice parses the optional price form field.
func formPrice(r *http.Request) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue("price"))
	if raw == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Validationf("price must be a number")
	}
	return &p, nil
}
