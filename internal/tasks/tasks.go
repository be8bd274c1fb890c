package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const QUEUE_NAME = "maintenance"

const (
	TypeRpcReactivate  = "rpc:reactivate"
	TypeRpcHealthCheck = "rpc:health_check"
	TypeVaultBackup    = "vault:backup"
)

// RpcHealthCheckPayload limits a check run to one chain. An empty ChainKey checks every chain.
type RpcHealthCheckPayload struct {
	ChainKey string `json:"chain_key,omitempty"`
}

func NewRpcReactivate() (*asynq.Task, error) {
	return asynq.NewTask(TypeRpcReactivate, nil), nil
}

func NewRpcHealthCheck(chainKey string) (*asynq.Task, error) {
	payload, err := json.Marshal(RpcHealthCheckPayload{ChainKey: chainKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRpcHealthCheck, payload), nil
}

func NewVaultBackup() (*asynq.Task, error) {
	return asynq.NewTask(TypeVaultBackup, nil), nil
}
