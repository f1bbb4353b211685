package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"messmate/pkg/media"
	"messmate/services/accounts"
)

type sessionResponse struct {
	Success bool `json:"success"`
	*accounts.Session
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.svc.Accounts.Register(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionResponse{true, sess})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req accounts.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.svc.Accounts.Login(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{true, sess})
}

func (a *API) handleGoogle(w http.ResponseWriter, r *http.Request) {
	var req accounts.GoogleRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.svc.Accounts.LoginGoogle(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{true, sess})
}

// handleCompleteProfile accepts JSON or a multipart form with a photo.
func (a *API) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	var (
		req   accounts.ProfileRequest
		photo *media.File
	)
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			a.respondError(w, r, err)
			return
		}
		req.Email = r.FormValue("email")
		req.Name = r.FormValue("name")
		var err error
		if photo, err = formImage(r, "photo"); err != nil {
			a.respondError(w, r, err)
			return
		}
	} else if !a.decode(w, r, &req) {
		return
	}
	if !a.allow(w, r, req.Email) {
		return
	}

	u, err := a.svc.Accounts.CompleteProfile(r.Context(), req, photo)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"user":         u,
		"profilePhoto": u.ProfilePhoto,
		"message":      "Profile completed successfully",
	})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !a.allow(w, r, email) {
		return
	}
	u, err := a.svc.Accounts.Get(r.Context(), email)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"user": u})
}

func (a *API) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req accounts.PreferencesRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	prefs, err := a.svc.Accounts.UpdatePreferences(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"preferences": prefs})
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req accounts.SubscribeRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	if err := a.svc.Accounts.Subscribe(r.Context(), req); err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"message": "Subscription saved successfully"})
}

func (a *API) handleBook(w http.ResponseWriter, r *http.Request) {
	var req accounts.BookRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	order, err := a.svc.Accounts.Book(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"order": order})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !a.allow(w, r, email) {
		return
	}
	orders, err := a.svc.Accounts.Orders(r.Context(), email)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"orders": orders})
}
