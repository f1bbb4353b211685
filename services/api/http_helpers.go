package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"messmate/pkg/apperr"
	"messmate/pkg/media"
)

type errorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// decode reads a JSON body into dest, answering 400 itself on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Body == nil {
		a.respondError(w, r, apperr.Validationf("request body required"))
		return false
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			a.respondError(w, r, apperr.Validationf("request body required"))
			return false
		}
		a.respondError(w, r, apperr.Wrap(apperr.Validation, err, "invalid JSON body"))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondOK writes {"success": true} merged with fields.
func respondOK(w http.ResponseWriter, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	respondJSON(w, http.StatusOK, body)
}

// respondError maps err to its status and the uniform error body.
// Unclassified errors are logged and reported generically.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.Internal:
		a.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	case apperr.Upstream:
		a.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream failure")
	}

	body := errorBody{Error: apperr.Reason(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Fields = ae.Fields
	}
	respondJSON(w, kind.Status(), body)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mt, "multipart/")
}

// parseMultipart bounds and parses a multipart form.
func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+maxJSONBody)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid multipart form")
	}
	return nil
}

// formImage returns the image in field, or nil when none was sent.
func formImage(r *http.Request, field string) (*media.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUpload+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid upload")
	}
	if len(data) > maxUpload {
		return nil, apperr.Validationf("%s exceeds 5 MB", field)
	}

	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, apperr.Validationf("%s must be an image", field)
	}
	return &media.File{Filename: hdr.Filename, ContentType: ct, Data: data}, nil
}
