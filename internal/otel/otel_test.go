package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOTelSDK_DisabledIsNoOp(t *testing.T) {
	shutdown, err := SetupOTelSDK(context.Background(), "runnerctl", Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupOTelSDK_ShutdownIsRepeatable(t *testing.T) {
	shutdown, err := SetupOTelSDK(context.Background(), "runnerctl", Config{StdOut: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}
