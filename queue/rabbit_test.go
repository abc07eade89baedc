package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRabbitMQEventBusWithDialer_DeclaresDurableQueue(t *testing.T) {
	mockChan := &MockAMQPChannel{}
	mockConn := &MockAMQPConnection{MockChannel: mockChan}
	dialer := &MockAMQPDialer{MockConnection: mockConn}

	bus, err := NewRabbitMQEventBusWithDialer(RabbitConfig{URL: "amqp://x", QueueName: "forms.stored"}, dialer)
	require.NoError(t, err)
	assert.Equal(t, "forms.stored", bus.queueName)
	assert.True(t, mockChan.QueueDeclareCalled)
	assert.Equal(t, "forms.stored", mockChan.LastQueueName)
}

func TestRabbitMQEventBus_Publish(t *testing.T) {
	mockChan := &MockAMQPChannel{}
	mockConn := &MockAMQPConnection{MockChannel: mockChan}
	dialer := &MockAMQPDialer{MockConnection: mockConn}

	bus, err := NewRabbitMQEventBusWithDialer(RabbitConfig{URL: "amqp://x", QueueName: "forms.stored"}, dialer)
	require.NoError(t, err)

	err = bus.Publish(context.Background(), StorageEvent{Bucket: "raw", Key: "mau-1.pdf"})
	require.NoError(t, err)

	require.Len(t, mockChan.PublishedMessages, 1)
	var got StorageEvent
	require.NoError(t, json.Unmarshal(mockChan.PublishedMessages[0].Body, &got))
	assert.Equal(t, StorageEvent{Bucket: "raw", Key: "mau-1.pdf"}, got)
}

func TestDecodeEvent_NativeRecordsEnvelope(t *testing.T) {
	raw := map[string]interface{}{
		"Records": []interface{}{
			map[string]interface{}{
				"s3": map[string]interface{}{
					"bucket": map[string]interface{}{"name": "raw"},
					"object": map[string]interface{}{"key": "mau-1.pdf"},
				},
			},
		},
	}
	ev, ok := DecodeEvent(raw)
	require.True(t, ok)
	assert.Equal(t, StorageEvent{Bucket: "raw", Key: "mau-1.pdf"}, ev)
}

func TestDecodeEvent_BareEnvelope(t *testing.T) {
	raw := map[string]interface{}{"bucket": "raw", "key": "mau-1.pdf"}
	ev, ok := DecodeEvent(raw)
	require.True(t, ok)
	assert.Equal(t, StorageEvent{Bucket: "raw", Key: "mau-1.pdf"}, ev)
}

func TestDecodeEvent_MissingFields(t *testing.T) {
	_, ok := DecodeEvent(map[string]interface{}{"bucket": "raw"})
	assert.False(t, ok)
}
