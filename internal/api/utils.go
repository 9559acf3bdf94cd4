package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"veco-ner/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

// Forward requests carry whole token batches.
const maxRequestBytes = 32 << 20

// statusError attaches the HTTP status a handler wants to answer with.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }

func (e *statusError) Unwrap() error { return e.err }

func CodedError(status int, err error) error {
	return &statusError{status: status, err: err}
}

func CodedErrorf(status int, format string, args ...any) error {
	return CodedError(status, fmt.Errorf(format, args...))
}

func statusOf(err error) int {
	if serr := (*statusError)(nil); errors.As(err, &serr) {
		return serr.status
	}
	return http.StatusInternalServerError
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var req T
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			return req, CodedErrorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", maxErr.Limit)
		}
		return req, CodedErrorf(http.StatusBadRequest, "malformed request body: %v", err)
	}
	return req, nil
}

var queryDecoder = schema.NewDecoder()

func init() {
	queryDecoder.IgnoreUnknownKeys(true)
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var params T
	if err := queryDecoder.Decode(&params, r.URL.Query()); err != nil {
		return params, CodedErrorf(http.StatusBadRequest, "malformed query parameters: %v", err)
	}
	return params, nil
}

// RestHandler adapts a handler returning a response value to net/http. Errors
// become an api.ErrorResponse with the status from CodedError, or 500.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			status := statusOf(err)
			if status >= http.StatusInternalServerError {
				slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
			}
			writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
			return
		}

		if res == nil {
			res = struct{}{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("error encoding response", "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(api.ErrorResponse{Error: "error encoding response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func URLParam(r *http.Request, key string) (string, error) {
	if param := chi.URLParam(r, key); param != "" {
		return param, nil
	}
	return "", CodedErrorf(http.StatusBadRequest, "missing {%s} url parameter", key)
}

var namePattern = regexp.MustCompile(`^[\w.-]+$`)

// Names become url path segments and cache directories.
func validateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return CodedErrorf(http.StatusBadRequest, "invalid model name '%s': use letters, digits, '.', '_' or '-'", name)
	}
	return nil
}
