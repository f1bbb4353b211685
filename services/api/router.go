package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"messmate/pkg/apperr"
	"messmate/pkg/bus"
	"messmate/pkg/telemetry"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware(a.cfg.ServiceName, a.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Streams stay open, so they skip the request timeout.
	r.Get("/sse/ratings", a.stream(bus.TopicRatings))
	r.With(a.authenticate, a.requireProducer).Get("/sse/producer", a.stream(bus.TopicProducer))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.cfg.RateLimit, time.Minute))
		r.Use(middleware.Timeout(a.cfg.RequestTimeout))

		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/auth/google", a.handleGoogle)
		r.Get("/vapid-public-key", a.handleVAPIDKey)
		r.Get("/meals", a.handleListMeals)
		r.Get("/meal/{name}", a.handleGetMeal)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/complete-profile", a.handleCompleteProfile)
			r.Get("/user/{email}", a.handleGetUser)
			r.Post("/update-notification-preferences", a.handlePreferences)
			r.Post("/subscribe", a.handleSubscribe)
			r.Post("/book", a.handleBook)
			r.Post("/checkout", a.handleCheckout)
			r.Post("/pay", a.handlePay)
			r.Get("/orders/{email}", a.handleOrders)
			r.Get("/token/{token}", a.handleToken)
			r.Post("/rate", a.handleRate)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate, a.requireProducer)

			r.Post("/meals", a.handleCreateMeal)
			r.Put("/meals/{id}", a.handleUpdateMeal)
			r.Delete("/meals/{id}", a.handleDeleteMeal)
			r.Post("/verify-token-payment", a.handleConfirmPayment)
			r.Post("/verify", a.handleVerify)
			r.Post("/check-verified", a.handleCheckVerified)
			r.Post("/scan", a.handleScan)
			r.Get("/producer/stats", a.handleStats)
			r.Post("/trigger-producer-alert", a.handleProducerAlert)
			r.Post("/send-reminder-to-users", a.handlePaymentReminders)
			r.Post("/admin/sweep", a.handleSweep)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.respondError(w, r, apperr.NotFoundf("route not found"))
	})
	return r
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.svc.Ready != nil {
		if err := a.svc.Ready(r.Context()); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *API) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if a.cfg.VAPIDPublicKey == "" {
		a.respondError(w, r, apperr.Preconditionf("web push is not configured"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"publicKey": a.cfg.VAPIDPublicKey})
}
