package ipc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/tandem/pkg/bus"
	"github.com/odvcencio/tandem/pkg/logging"
)

func TestBusForwarderPublishesFileEvents(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	received := make(chan *bus.Message, 4)
	_, err := b.Subscribe(t.Context(), "tandem.*", func(msg *bus.Message) {
		received <- msg
	})
	require.NoError(t, err)

	fwd := NewBusForwarder(b, "tandem", logging.Discard())
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fwd.BroadcastEvent(Event{Type: "terminal:data", Payload: "ignored", Timestamp: ts})
	fwd.BroadcastEvent(Event{Type: EventFileAdded, Payload: FilePayload{Path: "docs/new.md"}, Timestamp: ts})

	select {
	case msg := <-received:
		assert.Equal(t, "tandem.fileAdded", msg.Subject)
		var decoded BusMessage
		require.NoError(t, json.Unmarshal(msg.Data, &decoded))
		assert.Equal(t, EventFileAdded, decoded.Type)
		assert.Equal(t, "docs/new.md", decoded.Path)
		assert.True(t, ts.Equal(decoded.Timestamp))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected extra message on %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusForwarderNilSafe(t *testing.T) {
	var fwd *BusForwarder
	fwd.BroadcastEvent(Event{Type: EventFileChanged, Payload: FilePayload{Path: "x"}})

	NewBusForwarder(nil, "tandem", nil).BroadcastEvent(Event{Type: EventFileChanged, Payload: FilePayload{Path: "x"}})
}
