package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "audit-completions", map[string]any{"request_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = p.Publish(context.Background(), "audit-completions", map[string]any{"request_id": "r2"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "audit-completions", msgs[0].Topic)
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "t", "payload")
	require.NoError(t, err)

	msgs := p.Messages()
	msgs[0].Topic = "mutated"
	require.Equal(t, "t", p.Messages()[0].Topic)
}
