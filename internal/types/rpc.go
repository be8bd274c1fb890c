package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RpcEndpoint is one node URL for a chain, with the statistics used for weighted selection.
type RpcEndpoint struct {
	ID            int64      `json:"id" db:"id"`
	ChainKey      string     `json:"chain_key" db:"chain_key"`
	Ecosystem     string     `json:"ecosystem" db:"ecosystem"`
	URL           string     `json:"url" db:"url"`
	Priority      int        `json:"priority" db:"priority"`
	FailureCount  int        `json:"failure_count" db:"failure_count"`
	AvgResponseMs *int       `json:"avg_response_ms,omitempty" db:"avg_response_ms"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// AddEndpointRequest registers an endpoint for a chain.
type AddEndpointRequest struct {
	ChainKey  string `json:"chain_key"`
	Ecosystem string `json:"ecosystem"`
	URL       string `json:"url"`
	Priority  int    `json:"priority"`
}

func (req *AddEndpointRequest) IsValid() error {
	if strings.TrimSpace(req.ChainKey) == "" {
		return fmt.Errorf("chain_key is required")
	}
	if strings.TrimSpace(req.Ecosystem) == "" {
		return fmt.Errorf("ecosystem is required")
	}
	if req.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("url is not valid")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("url scheme must be http(s) or ws(s)")
	}
	if req.Priority < 0 {
		return fmt.Errorf("priority must not be negative")
	}
	return nil
}

// SelectEndpointResponse is returned by the selection API.
type SelectEndpointResponse struct {
	ChainKey string `json:"chain_key"`
	URL      string `json:"url"`
}
