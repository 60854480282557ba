package metrics

import (
	"github.com/smallbiznis/bookvault/internal/config"
	"go.uber.org/fx"
)

func Provide(cfg config.Config) *Metrics {
	return WithConfig(Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}

var Module = fx.Module("metrics",
	fx.Provide(Provide),
)
