package order

import (
	"github.com/smallbiznis/bookvault/internal/order/event"
	"github.com/smallbiznis/bookvault/internal/order/repository"
	"github.com/smallbiznis/bookvault/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(
		event.NewHub,
		repository.Provide,
		service.NewService,
	),
)
