package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"messmate/services/tokens"
	"messmate/services/verification"
)

type receiptResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	*tokens.Receipt
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req tokens.CheckoutRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	receipt, err := a.svc.Issuer.Checkout(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, receiptResponse{
		Success: true,
		Message: "Orders placed successfully. Please proceed to payment.",
		Receipt: receipt,
	})
}

func (a *API) handlePay(w http.ResponseWriter, r *http.Request) {
	var req tokens.PayRequest
	if !a.decode(w, r, &req) || !a.allow(w, r, req.Email) {
		return
	}
	receipt, err := a.svc.Issuer.Pay(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, receiptResponse{Success: true, Receipt: receipt})
}

// handleToken returns today's token. Students only see their own.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	tok, err := a.svc.Issuer.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if !a.allow(w, r, tok.UserEmail) {
		return
	}
	respondOK(w, map[string]any{
		"token":       tok.Token,
		"userEmail":   tok.UserEmail,
		"userName":    tok.UserName,
		"userPhoto":   tok.UserPhoto,
		"meals":       tok.Meals,
		"totalAmount": tok.TotalAmount,
		"paid":        tok.Paid,
		"verified":    tok.Verified,
		"verifiedAt":  tok.VerifiedAt,
		"expiresAt":   tok.ExpiresAt,
		"date":        tok.Day,
		"state":       verification.StateOf(tok, a.svc.Workflow.Now()),
	})
}
