package events

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventNodeSynced, Metadata: map[string]string{"node": "pve1"}})

	select {
	case ev := <-sub:
		assert.Equal(t, EventNodeSynced, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, "pve1", ev.Metadata["node"])
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBrokerSubscriberCount(t *testing.T) {
	b := NewBroker()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(s1)
	b.Unsubscribe(s1) // second unsubscribe is a no-op
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(s2)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventSecretUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

// lockedBuffer is a bytes.Buffer safe for the journal goroutine and the test
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJournalLogsEvents(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	out := &lockedBuffer{}
	j := NewJournal(b, zerolog.New(out))
	j.Start()
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{
		Type:     EventNodeSyncFailed,
		Message:  "node pve2 failed to sync",
		Metadata: map[string]string{"node": "pve2"},
	})

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "node pve2 failed to sync")
	}, time.Second, 10*time.Millisecond)

	j.Stop()
	j.Stop()
	assert.Equal(t, 0, b.SubscriberCount())

	line := out.String()
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, `"event":"node.sync_failed"`)
	assert.Contains(t, line, `"node":"pve2"`)
}

func TestJournalStopWithoutStart(t *testing.T) {
	j := NewJournal(NewBroker(), zerolog.Nop())
	j.Stop()
}
