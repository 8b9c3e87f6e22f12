package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutBrokersIsNoop(t *testing.T) {
	n := New(nil, "catalog.batch")
	_, ok := n.(Noop)
	assert.True(t, ok)
	assert.NoError(t, n.BatchFinalized(context.Background(), Event{BatchID: "b1"}))
	assert.NoError(t, n.Close())

	_, ok = New([]string{"localhost:9092"}, "").(Noop)
	assert.True(t, ok)
}

func TestNewKafkaNotifier(t *testing.T) {
	n := New([]string{"broker-1:9092", "broker-2:9092"}, "catalog.batch")
	k, ok := n.(*KafkaNotifier)
	require.True(t, ok)
	assert.Equal(t, "catalog.batch", k.writer.Topic)
	assert.NotNil(t, k.writer.Addr)
	assert.NoError(t, k.Close())
}
