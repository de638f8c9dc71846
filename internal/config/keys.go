package config

import "os"

// APIKeySource says where a credential came from.
type APIKeySource string

// Credential sources.
const (
	KeySourceEnv    APIKeySource = "env"
	KeySourceConfig APIKeySource = "config"
	KeySourceNone   APIKeySource = "none"
)

// KeyStatus reports one credential for the status surface. The raw value
// never leaves this package; only a masked form does.
type KeyStatus struct {
	Name   string       `json:"name"`
	Source APIKeySource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"`
}

// CheckAPIKeys returns the status of every broker credential.
func CheckAPIKeys(cfg *Config) []KeyStatus {
	return []KeyStatus{
		checkKey("Alpaca API Key", cfg.Broker.Alpaca.APIKey, "TRADEFLOW_BROKER_ALPACA_API_KEY"),
		checkKey("Alpaca API Secret", cfg.Broker.Alpaca.APISecret, "TRADEFLOW_BROKER_ALPACA_API_SECRET"),
	}
}

// checkKey determines presence and source for one credential.
func checkKey(name, value, envVar string) KeyStatus {
	status := KeyStatus{
		Name:  name,
		IsSet: value != "",
	}
	if value != "" {
		if os.Getenv(envVar) != "" {
			status.Source = KeySourceEnv
		} else {
			status.Source = KeySourceConfig
		}
		status.Masked = maskKey(value)
	} else {
		status.Source = KeySourceNone
	}
	return status
}

// maskKey shows only the first and last 3 characters of a key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:3] + "..." + key[len(key)-3:]
}
