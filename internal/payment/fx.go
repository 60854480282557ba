package payment

import (
	"github.com/smallbiznis/bookvault/internal/config"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"github.com/smallbiznis/bookvault/internal/payment/gateway"
	"github.com/smallbiznis/bookvault/internal/payment/repository"
	"github.com/smallbiznis/bookvault/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	return gateway.NewMidtrans(cfg.Gateway, log)
}

var Module = fx.Module("payment",
	fx.Provide(
		provideGateway,
		repository.Provide,
		service.NewService,
	),
)
