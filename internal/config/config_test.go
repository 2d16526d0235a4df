package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNew_FromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com")
	t.Setenv("AUTH_EXPIRY_STATUSES", "401")
	t.Setenv("POPUP_POLL_INTERVAL", "250ms")

	cfg, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com", cfg.GetAPIBaseURL())
	require.Equal(t, []int{401}, cfg.GetExpiryStatuses())
	require.Equal(t, 250*time.Millisecond, cfg.GetPollInterval())
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	require.Equal(t, []int{401, 418}, cfg.GetExpiryStatuses())
	require.Equal(t, []string{"/auth/login", "/auth/refresh", "/auth/logout"}, cfg.GetNoRetryPaths())
	require.Equal(t, "/payments", cfg.GetPaymentsPath())
	require.Equal(t, time.Second, cfg.GetPollInterval())
	require.Equal(t, "http://127.0.0.1:3000", cfg.GetPopupOrigin())

	rps, _ := cfg.GetRateLimit()
	require.Zero(t, rps)
}

func TestAllowedOrigins(t *testing.T) {
	origins := config.NewAllowedOrigins("http://127.0.0.1:3000/")

	require.True(t, origins.IsAllowedOrigin("http://127.0.0.1:3000"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example"))
}

func TestFromMap(t *testing.T) {
	t.Run("values override defaults", func(t *testing.T) {
		cfg, err := config.FromMap(map[string]string{
			"PAYMENT_TIMEOUT": "2m",
			"POPUP_ORIGIN":    "http://localhost:5173/",
		})
		require.NoError(t, err)

		require.Equal(t, 2*time.Minute, cfg.GetPaymentTimeout())
		require.Equal(t, 4*time.Minute, cfg.GetPendingPaymentTTL())
		require.Equal(t, "http://localhost:5173", cfg.GetPopupOrigin())
	})

	t.Run("bad duration is an error", func(t *testing.T) {
		_, err := config.FromMap(map[string]string{"REFRESH_TIMEOUT": "soon"})
		require.Error(t, err)
	})
}
