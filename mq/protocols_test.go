package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestValidateNameEmpty(t *testing.T) {
	assert.ErrorIs(t, ValidateName(""), ErrEmptyName)
}

func TestValidateNameInvalidChars(t *testing.T) {
	assert.ErrorIs(t, ValidateName("broker application#1"), ErrInvalidName)
}

func TestValidateNameAccepts(t *testing.T) {
	assert.NoError(t, ValidateName("broker.application.unit1.app1.uldata"))
	assert.NoError(t, ValidateName("broker/network/unit1/net1/ctrl"))
}

func TestMessageHandlerFuncAdapts(t *testing.T) {
	var called bool
	h := MessageHandlerFunc(func(ctx context.Context, q Queue, msg Message) {
		called = true
	})

	h.OnMessage(context.Background(), nil, nil)
	assert.True(t, called)
}
