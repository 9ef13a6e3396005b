package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// readFileBody returns the new file content. Raw text bodies are taken
// verbatim; application/json bodies must carry {"content": "..."}.
func readFileBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, int, error) {
	if r == nil || r.Body == nil {
		return nil, 0, nil
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return nil, http.StatusBadRequest, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return data, 0, nil
	}
	var body struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err)
	}
	if body.Content == nil {
		return nil, http.StatusBadRequest, errors.New(`JSON body must contain "content"`)
	}
	return []byte(*body.Content), 0, nil
}
