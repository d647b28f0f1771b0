package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FacilitatorConfig configures the HTTP client for the external
// settlement authority. BaseURL must be HTTPS; plaintext endpoints are
// rejected at load, not at request time.
type FacilitatorConfig struct {
	BaseURL        string `json:"baseUrl" validate:"required,url,startswith=https://"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" validate:"omitempty,min=1,max=300"`

	// MaxRetries is a pointer so an explicit zero (no retries) is
	// distinguishable from unset (default 3).
	MaxRetries *int `json:"maxRetries,omitempty" validate:"omitempty,min=0,max=10"`
}

// Timeout returns the per-attempt request timeout, defaulting to 30s.
func (f FacilitatorConfig) Timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// Retries returns the configured retry budget, defaulting to 3 when
// unset. Zero is a valid budget: every call gets exactly one attempt.
func (f FacilitatorConfig) Retries() int {
	if f.MaxRetries == nil {
		return 3
	}
	if *f.MaxRetries < 0 {
		return 0
	}
	return *f.MaxRetries
}

// AssetConfig declares one fungible value unit accepted on a chain.
// Decimals are token-defined and used only for human display.
type AssetConfig struct {
	Address  string `json:"address" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Decimals uint8  `json:"decimals"`
}

// NetworkConfig is the per-chain entry of the network policy table.
type NetworkConfig struct {
	ChainID     string        `json:"chainId" validate:"required"`
	PayTo       string        `json:"payTo" validate:"required"`
	MinGasPrice uint64        `json:"minGasPrice"`
	MaxGasPrice uint64        `json:"maxGasPrice" validate:"required"`
	Assets      []AssetConfig `json:"assets" validate:"required,min=1,dive"`
}

// Config is the engine configuration surface. How it is loaded is the
// caller's concern; the engine only reads it.
type Config struct {
	// PaymentsEnabled is the runtime switch checked at the transport
	// boundary. The engine is always compiled in and simply unused
	// when disabled.
	PaymentsEnabled bool `json:"paymentsEnabled"`

	Facilitator FacilitatorConfig `json:"facilitator" validate:"required"`
	Networks    []NetworkConfig   `json:"networks" validate:"required,min=1,dive"`

	// MaxTimeoutSeconds is stamped onto issued requirements, bounded
	// to 1..300 (default 60).
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty" validate:"omitempty,min=1,max=300"`
}

// ParseConfig parses and validates an engine configuration from JSON.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &PaymentError{
			Code:    CodeConfigError,
			Stage:   StageConfig,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, &PaymentError{
			Code:    CodeConfigError,
			Stage:   StageConfig,
			Message: fmt.Sprintf("config validation failed: %v", err),
		}
	}
	return &cfg, nil
}

// ValidateStruct runs tag-based validation on any protocol struct.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}
