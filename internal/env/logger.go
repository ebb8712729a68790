package environment

import (
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	"github.com/pkg/errors"
	slogloki "github.com/samber/slog-loki/v3"

	"paykit/internal/config"
)

const serviceName = "paykit"

// initLogger writes to stdout, or ships to Loki when a URL is configured. The
// returned closer flushes the Loki client.
func initLogger(cfg config.Config) (*slog.Logger, closer, error) {
	level := parseLogLevel(cfg.Logger.Level)

	if cfg.Logger.LokiURL != "" {
		lokiConfig, err := loki.NewDefaultConfig(cfg.Logger.LokiURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "loki config")
		}
		lokiConfig.TenantID = cfg.Logger.LokiTenant

		client, err := loki.New(lokiConfig)
		if err != nil {
			return nil, nil, errors.Wrap(err, "loki client")
		}

		logger := slog.New(slogloki.Option{
			Level:  level,
			Client: client,
		}.NewLokiHandler()).With("service", serviceName, "env", cfg.Env)

		return logger, client.Stop, nil
	}

	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), func() {}, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
