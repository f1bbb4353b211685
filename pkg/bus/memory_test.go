package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "channel closed")
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryFanOut(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := b.Subscribe(ctx, TopicProducer)
	require.NoError(t, err)
	second, err := b.Subscribe(ctx, TopicProducer)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TopicRatings)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicProducer, Event{Type: "token.verified", Data: map[string]string{"token": "1"}}))

	for _, ch := range []<-chan []byte{first, second} {
		var evt struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(receive(t, ch), &evt))
		assert.Equal(t, "token.verified", evt.Type)
		assert.Equal(t, "1", evt.Data["token"])
	}

	select {
	case <-other:
		t.Fatal("ratings listener received a producer event")
	default:
	}
}

func TestMemoryRemovesListenerOnDisconnect(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, TopicRatings)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Listeners(TopicRatings))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("listener channel was not closed")
	}
	assert.Equal(t, 0, b.Listeners(TopicRatings))

	// Publishing with no listeners is not an error.
	assert.NoError(t, b.Publish(context.Background(), TopicRatings, Event{Type: "rating.updated"}))
}

func TestMemoryCloseRejectsNewSubscribers(t *testing.T) {
	b := NewMemory()
	b.Close()

	_, err := b.Subscribe(context.Background(), TopicProducer)
	assert.Error(t, err)
}
