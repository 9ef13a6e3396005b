package ipc

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
)

// parseIntDefault returns raw as a positive int, or def.
func parseIntDefault(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, payload any) {
	respondJSONStatus(w, http.StatusOK, payload)
}

func respondJSONStatus(w http.ResponseWriter, status int, payload any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse is the JSON body of every failed API call. Error and Message
// carry the same text; the browser reads "error".
type errorResponse struct {
	Error       string   `json:"error"`
	Status      int      `json:"status"`
	Code        string   `json:"code,omitempty"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

func newErrorResponse(status int, err error) errorResponse {
	resp := errorResponse{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Message = err.Error()
		resp.Details = err.Error()
	}
	if appErr, ok := apperrors.As(err); ok {
		resp.Code = string(appErr.Code)
		resp.Retryable = appErr.Retryable
		resp.Remediation = slices.Clone(appErr.Remediation)
		switch {
		case appErr.UserMessage != "":
			resp.Message = appErr.UserMessage
		case appErr.Message != "":
			resp.Message = appErr.Message
		}
	}
	if len(resp.Remediation) == 0 {
		resp.Remediation = defaultRemediation(apperrors.ErrorCode(resp.Code), status)
	}
	resp.Error = resp.Message
	return resp
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSONStatus(w, status, newErrorResponse(status, err))
}

// statusForError maps error codes to HTTP statuses. Anything unrecognized
// is a 500.
func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeFSNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeUnsupported, apperrors.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

var (
	fsRemediation = []string{
		"Check that the workspace directories exist and are writable by the server.",
		"Make sure the disk is not full.",
	}
	codeRemediation = map[apperrors.ErrorCode][]string{
		apperrors.ErrCodeFSNotFound:   {"Refresh the file tree; the file may have been deleted or renamed."},
		apperrors.ErrCodeFSRead:       fsRemediation,
		apperrors.ErrCodeFSWrite:      fsRemediation,
		apperrors.ErrCodeFSDelete:     fsRemediation,
		apperrors.ErrCodeFSList:       fsRemediation,
		apperrors.ErrCodeInvalidInput: {"Use a path relative to the workspace root without '..' segments."},
		apperrors.ErrCodeScriptRun:    {"Inspect stderr in the response for the script's own error output."},
	}
	statusRemediation = map[int][]string{
		http.StatusTooManyRequests: {"Wait a few seconds for the rate limiter to reset."},
		http.StatusNotImplemented:  {"Configure the script path in .tandem/config.yaml or the environment."},
	}
)

func defaultRemediation(code apperrors.ErrorCode, status int) []string {
	if tips, ok := codeRemediation[code]; ok {
		return slices.Clone(tips)
	}
	if tips, ok := statusRemediation[status]; ok {
		return slices.Clone(tips)
	}
	return []string{"Check the server logs for details."}
}
