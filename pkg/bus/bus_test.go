package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToMatchingSubscribers(t *testing.T) {
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	exact := make(chan *Message, 1)
	_, err := b.Subscribe(t.Context(), "tandem.files.fileChanged", func(msg *Message) { exact <- msg })
	require.NoError(t, err)

	var wildcard atomic.Int32
	_, err = b.Subscribe(t.Context(), "tandem.files.*", func(*Message) { wildcard.Add(1) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), "tandem.files.fileChanged", []byte(`{"path":"a.txt"}`)))
	require.NoError(t, b.Publish(t.Context(), "tandem.files.fileDeleted", []byte(`{"path":"b.txt"}`)))
	require.NoError(t, b.Publish(t.Context(), "tandem.terminal.data", []byte("ignored")))

	select {
	case msg := <-exact:
		assert.Equal(t, "tandem.files.fileChanged", msg.Subject)
		assert.Equal(t, `{"path":"a.txt"}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	require.Eventually(t, func() bool { return wildcard.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMemoryBusPublishCopiesPayload(t *testing.T) {
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	got := make(chan []byte, 1)
	_, err := b.Subscribe(t.Context(), "x", func(msg *Message) { got <- msg.Data })
	require.NoError(t, err)

	data := []byte("original")
	require.NoError(t, b.Publish(t.Context(), "x", data))
	copy(data, "mutated!")

	select {
	case payload := <-got:
		assert.Equal(t, "original", string(payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	var received atomic.Int32
	sub, err := b.Subscribe(t.Context(), "tandem.>", func(*Message) { received.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, "tandem.>", sub.Subject())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe(), "second Unsubscribe is a no-op")

	require.NoError(t, b.Publish(t.Context(), "tandem.files.fileAdded", []byte("x")))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, received.Load())
}

func TestMemoryBusCountsDroppedMessages(t *testing.T) {
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	release := make(chan struct{})
	_, err := b.Subscribe(t.Context(), "slow", func(*Message) { <-release })
	require.NoError(t, err)
	t.Cleanup(func() { close(release) })

	// One message is held by the blocked handler and memoryQueueSize fill
	// the queue; everything past that is dropped.
	for i := 0; i < memoryQueueSize+10; i++ {
		require.NoError(t, b.Publish(t.Context(), "slow", []byte("m")))
	}
	assert.GreaterOrEqual(t, b.Dropped(), uint64(9))
}

func TestMemoryBusStopsWithContext(t *testing.T) {
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	var received atomic.Int32
	_, err := b.Subscribe(ctx, "x", func(*Message) { received.Add(1) })
	require.NoError(t, err)
	cancel()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Publish(t.Context(), "x", []byte("late")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, received.Load())
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo.*", "foo.bar", true},
		{"foo.*", "foo.bar.baz", false},
		{"foo.>", "foo.bar.baz", true},
		{"foo.>", "foo", false},
		{"*.bar", "foo.bar", true},
		{"*.bar", "foo.baz", false},
		{"tandem.files.*", "tandem.files", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "tandem.files.fileAdded", Subject("tandem.files.", "fileAdded"))
	assert.Equal(t, "fileAdded", Subject("  ", "fileAdded"))
}

func TestMemoryBusClosedOperations(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(t.Context(), "test", []byte("data")), ErrClosed)
	_, err := b.Subscribe(t.Context(), "test", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Close(), ErrClosed)
}
