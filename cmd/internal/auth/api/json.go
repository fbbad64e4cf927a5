package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	errEmptyBody  = errors.New("request body is empty")
	errTrailing   = errors.New("request body has data after the JSON object")
	errBodyTooBig = errors.New("request body too large")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// writeJSON sends v with status. Auth responses are never cacheable.
func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeFieldError(w, status, code, "", msg)
}

func writeFieldError(w http.ResponseWriter, status int, code, field, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg, Field: field}})
}

// readJSON decodes the request body into dst and answers the request itself
// when that fails. It reports whether the handler should continue.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := decodeJSON(w, r, h.cfg.MaxBodyBytes, dst, allowEmpty)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errBodyTooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
	return false
}

// decodeJSON reads exactly one JSON object with no unknown fields. With
// allowEmpty an absent body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, allowEmpty bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return errBodyTooBig
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return nil
			}
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errBodyTooBig
		}
		return errTrailing
	}
	return nil
}
