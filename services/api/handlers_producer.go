package api

import (
	"fmt"
	"net/http"

	"messmate/pkg/apperr"
	"messmate/services/verification"
)

func (a *API) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req verification.PaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Workflow.ConfirmPayment(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"message": "Payment verified successfully", "payment": res})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verification.ScanRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Workflow.VerifyScan(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*verification.VerifyResult
	}{true, res})
}

func (a *API) handleCheckVerified(w http.ResponseWriter, r *http.Request) {
	var req verification.ScanRequest
	if !a.decode(w, r, &req) {
		return
	}
	verified, err := a.svc.Workflow.CheckVerified(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"verified": verified})
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Workflow.Scan(r.Context(), req.Data)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"payload": res.Payload, "verified": res.Verified})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	rep, err := a.svc.Stats.Report(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (a *API) handleProducerAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.svc.Reminders.ProducerAlert(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"count":   alert.Count,
		"users":   alert.Students,
		"message": "Alert sent to producer dashboard",
	})
}

func (a *API) handlePaymentReminders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmails []string `json:"userEmails"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	sum, err := a.svc.Reminders.PaymentReminders(r.Context(), req.UserEmails)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"sent":    sum.Successful,
		"failed":  sum.Failed,
		"skipped": sum.Skipped,
		"total":   len(req.UserEmails),
		"message": fmt.Sprintf("Reminders sent to %d/%d users", sum.Successful, len(req.UserEmails)),
	})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.Workflow.Sweep(r.Context())
	if err != nil {
		a.respondError(w, r, apperr.Wrap(apperr.Internal, err, "sweep failed"))
		return
	}
	respondOK(w, map[string]any{"deleted": n})
}
