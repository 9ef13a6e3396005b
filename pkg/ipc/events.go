package ipc

import (
	"time"

	"github.com/odvcencio/tandem/pkg/filewatch"
)

// Broadcast event types for file changes.
const (
	EventFileAdded   = "fileAdded"
	EventFileChanged = "fileChanged"
	EventFileDeleted = "fileDeleted"
)

// Inbound WebSocket message types.
const (
	msgTerminalCreate = "terminal:create"
	msgTerminalInput  = "terminal:input"
	msgTerminalResize = "terminal:resize"
)

// FilePayload is the body of every file change event.
type FilePayload struct {
	Path string `json:"path"`
}

// inboundMessage is a client to server frame.
type inboundMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

func fileEventType(kind filewatch.ChangeType) string {
	switch kind {
	case filewatch.ChangeCreated:
		return EventFileAdded
	case filewatch.ChangeDeleted:
		return EventFileDeleted
	default:
		return EventFileChanged
	}
}

func fileEvent(change filewatch.FileChange) Event {
	ts := change.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		Type:      fileEventType(change.Type),
		Payload:   FilePayload{Path: change.Path},
		Timestamp: ts,
	}
}

func isFileEvent(eventType string) bool {
	switch eventType {
	case EventFileAdded, EventFileChanged, EventFileDeleted:
		return true
	default:
		return false
	}
}
