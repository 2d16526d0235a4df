package logging_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	"github.com/jrsteele09/go-course-storefront/internal/logging"
	"github.com/stretchr/testify/require"
)

type envStub struct {
	config.EnvVars
}

func TestNewWithWriter(t *testing.T) {
	t.Run("json output carries app name", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := envStub{config.EnvVars{AppName: "shop", LogLevel: "debug", LogFormat: "json"}}

		log := logging.NewWithWriter(cfg, &buf)
		log.Debug().Msg("hello")

		require.Contains(t, buf.String(), `"app":"shop"`)
		require.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := envStub{config.EnvVars{AppName: "shop", LogLevel: "chatty", LogFormat: "json"}}

		log := logging.NewWithWriter(cfg, &buf)
		log.Debug().Msg("hidden")
		require.Empty(t, buf.String())

		log.Info().Msg("shown")
		require.Contains(t, buf.String(), "shown")
	})
}
