package ipc

import (
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/filewatch"
	"github.com/odvcencio/tandem/pkg/mirror"
)

type fileResponse struct {
	Content string `json:"content"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) requireMirror(w http.ResponseWriter) bool {
	if s.mirror == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("workspace unavailable"))
		return false
	}
	return true
}

func (s *Server) failFileOp(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("file operation failed", "op", op, "error", err)
	} else {
		s.logger.Debug("file operation rejected", "op", op, "error", err)
	}
	respondError(w, status, err)
}

// handleListFiles returns the recursive tree under ?path (default: root).
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	entries, err := s.mirror.List(r.Context(), r.URL.Query().Get("path"))
	observeFileOp(mirror.OpList, err)
	if err != nil {
		s.failFileOp(w, mirror.OpList, err)
		return
	}
	respondJSON(w, entries)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	data, err := s.mirror.Read(r.Context(), r.URL.Query().Get("path"))
	observeFileOp(mirror.OpRead, err)
	if err != nil {
		s.failFileOp(w, mirror.OpRead, err)
		return
	}
	respondJSON(w, fileResponse{Content: string(data)})
}

// handleWriteFile stores the body and announces fileChanged, the same event
// a watcher-observed edit produces.
func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	content, status, err := readFileBody(w, r, maxFileBodyBytes)
	if err != nil {
		respondError(w, status, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	res, err := s.mirror.Write(r.Context(), r.URL.Query().Get("path"), content)
	observeFileOp(mirror.OpWrite, err)
	if err != nil {
		s.failFileOp(w, mirror.OpWrite, err)
		return
	}
	s.announce(res, filewatch.ChangeModified)
	respondJSON(w, successResponse{Success: true})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMirror(w) {
		return
	}
	res, err := s.mirror.Delete(r.Context(), r.URL.Query().Get("path"))
	observeFileOp(mirror.OpDelete, err)
	if err != nil {
		s.failFileOp(w, mirror.OpDelete, err)
		return
	}
	s.announce(res, filewatch.ChangeDeleted)
	respondJSON(w, successResponse{Success: true})
}

func (s *Server) announce(res mirror.Result, kind filewatch.ChangeType) {
	s.watcher.Notify(filewatch.FileChange{
		Path:   res.Path,
		Type:   kind,
		Root:   s.mirror.ActiveRoot(),
		Origin: filewatch.OriginAPI,
	})
}

type changeView struct {
	Event string `json:"event"`
	filewatch.FileChange
}

// handleRecentChanges lists recent change events, newest first, so a
// reconnecting client can decide whether to reload.
func (s *Server) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(strings.TrimSpace(r.URL.Query().Get("limit")), defaultChangesLimit)
	changes := s.watcher.RecentChanges(limit)
	out := make([]changeView, 0, len(changes))
	for _, change := range changes {
		out = append(out, changeView{Event: fileEventType(change.Type), FileChange: change})
	}
	respondJSON(w, out)
}
