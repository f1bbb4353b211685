package api

import (
	"context"
	"net/http"
	"strings"

	"messmate/pkg/apperr"
	"messmate/services/accounts"
	"messmate/services/store"
)

type claimsKey struct{}

// authenticate requires a valid bearer token. Event streams may pass it as
// the access_token query parameter since EventSource cannot set headers.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			raw = r.URL.Query().Get("access_token")
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			a.respondError(w, r, apperr.Unauthorizedf("authentication required"))
			return
		}

		claims, err := a.svc.Tokens.Parse(raw)
		if err != nil {
			a.respondError(w, r, apperr.Wrap(apperr.Unauthorized, err, "invalid or expired access token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// requireProducer rejects callers without the producer role.
func (a *API) requireProducer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := claimsFrom(r.Context()); c == nil || c.Role != store.RoleProducer {
			a.respondError(w, r, apperr.Forbiddenf("producer access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(ctx context.Context) *accounts.Claims {
	c, _ := ctx.Value(claimsKey{}).(*accounts.Claims)
	return c
}

// allow reports whether the caller may act for email, answering 403 itself
// when not. Producers may act for anyone.
func (a *API) allow(w http.ResponseWriter, r *http.Request, email string) bool {
	c := claimsFrom(r.Context())
	if c != nil && (c.Role == store.RoleProducer || store.NormalizeEmail(c.Email()) == store.NormalizeEmail(email)) {
		return true
	}
	a.respondError(w, r, apperr.Forbiddenf("not allowed to act for this user"))
	return false
}
