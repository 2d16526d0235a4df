package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	GatewayConfig
	PaymentConfig
	PopupConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetAPIBaseURL() string
	GetLogLevel() string
	GetLogFormat() string
	GetRequestTimeout() time.Duration
	GetRateLimit() (rps float64, burst int)
	GetRedisURL() string
}

type mainConfig struct {
	EnvVars
	Gateway
	Payment
	Popup
}

// New parses the environment into a Config.
func New() (Config, error) {
	vars := EnvVars{}
	if err := env.Parse(&vars); err != nil {
		return nil, fmt.Errorf("[config New] failed to parse environment variables: %w", err)
	}
	return mainConfig{
		EnvVars: vars,
		Gateway: Gateway{vars: &vars},
		Payment: Payment{vars: &vars},
		Popup:   Popup{vars: &vars},
	}, nil
}

// FromMap parses environ instead of the process environment.
func FromMap(environ map[string]string) (Config, error) {
	vars := EnvVars{}
	if err := env.ParseWithOptions(&vars, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("[config FromMap] failed to parse variables: %w", err)
	}
	return mainConfig{
		EnvVars: vars,
		Gateway: Gateway{vars: &vars},
		Payment: Payment{vars: &vars},
		Popup:   Popup{vars: &vars},
	}, nil
}

// Default returns a Config populated only with defaults, ignoring the environment.
func Default() Config {
	cfg, err := FromMap(map[string]string{})
	if err != nil {
		panic(err)
	}
	return cfg
}
