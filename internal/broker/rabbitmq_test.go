package broker

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitConfirmMatchesDeliveryTag(t *testing.T) {
	acks := make(chan amqp.Confirmation, 4)
	ctx := context.Background()

	// Publish 1 gives up before its confirm arrives.
	short, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	require.ErrorIs(t, awaitConfirm(short, acks, 1), context.DeadlineExceeded)

	// Its late ack must not be taken for the nack of publish 2.
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	acks <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
	assert.ErrorIs(t, awaitConfirm(ctx, acks, 2), ErrNack)

	acks <- amqp.Confirmation{DeliveryTag: 3, Ack: true}
	assert.NoError(t, awaitConfirm(ctx, acks, 3))
	assert.Empty(t, acks)
}

func TestAwaitConfirmChannelClosed(t *testing.T) {
	acks := make(chan amqp.Confirmation)
	close(acks)
	assert.ErrorIs(t, awaitConfirm(context.Background(), acks, 1), amqp.ErrClosed)
}
