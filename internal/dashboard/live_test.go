package dashboard

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLiveHub_BroadcastDuringDisconnect(t *testing.T) {
	h := NewLiveHub(zap.NewNop(), nil, func() LiveView { return LiveView{} }, time.Second)

	for i := 0; i < 2000; i++ {
		c := &liveClient{id: uuid.NewString(), send: make(chan []byte, sendBuffer), hub: h}
		h.register(c)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.unregister(c)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast()
		}()
		wg.Wait()
	}
	assert.Zero(t, h.Clients())
}

func TestLiveHub_UnregisterIsIdempotent(t *testing.T) {
	h := NewLiveHub(zap.NewNop(), nil, func() LiveView { return LiveView{} }, time.Second)
	c := &liveClient{id: uuid.NewString(), send: make(chan []byte, sendBuffer), hub: h}

	h.register(c)
	h.Broadcast()
	require.Len(t, c.send, 1)

	h.unregister(c)
	h.unregister(c)
	assert.Zero(t, h.Clients())

	// The queued frame is still drained before the channel reports closed.
	_, ok := <-c.send
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok)
	assert.NotPanics(t, h.Broadcast)
}
