package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRpcHealthCheck(t *testing.T) {
	task, err := NewRpcHealthCheck("ethereum")
	require.NoError(t, err)
	assert.Equal(t, TypeRpcHealthCheck, task.Type())

	var payload RpcHealthCheckPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "ethereum", payload.ChainKey)

	task, err = NewRpcHealthCheck("")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(task.Payload()))
}

func TestMaintenanceTaskTypes(t *testing.T) {
	task, err := NewRpcReactivate()
	require.NoError(t, err)
	assert.Equal(t, TypeRpcReactivate, task.Type())

	task, err = NewVaultBackup()
	require.NoError(t, err)
	assert.Equal(t, TypeVaultBackup, task.Type())
}
