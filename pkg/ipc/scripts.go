package ipc

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/scripts"
)

type scriptSuccess struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type scriptFailure struct {
	Error    string `json:"error"`
	Stderr   string `json:"stderr"`
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Code     string `json:"code,omitempty"`
}

// handleRunScript runs a configured script to completion. The run is
// detached from the request context so a closed browser tab does not kill
// a rebuild halfway through.
func (s *Server) handleRunScript(name scripts.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.scripts.Configured(name) {
			respondError(w, http.StatusNotImplemented,
				apperrors.New(apperrors.ErrCodeUnsupported, string(name)+" script not configured"))
			return
		}
		if limiter := s.scriptLimiters[name]; limiter != nil && !limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, errors.New(string(name)+" already requested recently"))
			return
		}

		res, err := s.scripts.Run(context.WithoutCancel(r.Context()), name)
		if err != nil {
			metricScriptRuns.WithLabelValues(string(name), "error").Inc()
			respondJSONStatus(w, http.StatusInternalServerError, scriptFailure{
				Error:    err.Error(),
				Stderr:   res.Stderr,
				Output:   res.Output,
				ExitCode: res.ExitCode,
				Code:     string(apperrors.GetCode(err)),
			})
			return
		}
		metricScriptRuns.WithLabelValues(string(name), "ok").Inc()
		respondJSON(w, scriptSuccess{Success: true, Output: res.Output})
	}
}
