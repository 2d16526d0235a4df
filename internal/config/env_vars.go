package config

import "time"

// EnvVars is the raw environment, parsed with caarlos0/env.
type EnvVars struct {
	AppName        string        `env:"APP_NAME"        envDefault:"Course Storefront"`
	Env            string        `env:"ENV"             envDefault:"DEV"`
	APIBaseURL     string        `env:"API_BASE_URL"    envDefault:"http://localhost:8080/api"`
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT"      envDefault:"console"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS"  envDefault:"0"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RedisURL       string        `env:"REDIS_URL"`

	RefreshTimeout  time.Duration `env:"REFRESH_TIMEOUT"   envDefault:"15s"`
	ExpiryStatuses  []int         `env:"AUTH_EXPIRY_STATUSES" envDefault:"401,418" envSeparator:","`
	PaymentsPath    string        `env:"PAYMENTS_PATH"     envDefault:"/payments"`
	OrdersPath      string        `env:"ORDERS_PATH"       envDefault:"/v1/orders"`
	PaymentTimeout  time.Duration `env:"PAYMENT_TIMEOUT"   envDefault:"10m"`
	CancelTimeout   time.Duration `env:"PAYMENT_CANCEL_TIMEOUT" envDefault:"5s"`
	PopupPoll       time.Duration `env:"POPUP_POLL_INTERVAL" envDefault:"1s"`
	PopupListenAddr string        `env:"POPUP_LISTEN_ADDR" envDefault:"127.0.0.1:3000"`
	PopupOrigin     string        `env:"POPUP_ORIGIN"      envDefault:"http://127.0.0.1:3000"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

// GetAPIBaseURL returns the backend base URL every request path is joined to
func (e EnvVars) GetAPIBaseURL() string {
	return e.APIBaseURL
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) GetLogFormat() string {
	return e.LogFormat
}

func (e EnvVars) GetRequestTimeout() time.Duration {
	return e.RequestTimeout
}

// GetRateLimit returns the outbound request rate. A zero rps disables limiting.
func (e EnvVars) GetRateLimit() (float64, int) {
	return e.RateLimitRPS, e.RateLimitBurst
}

func (e EnvVars) GetRedisURL() string {
	return e.RedisURL
}
