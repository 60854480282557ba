package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/bookvault/internal/book"
	"github.com/smallbiznis/bookvault/internal/config"
	obsmetrics "github.com/smallbiznis/bookvault/internal/observability/metrics"
	"github.com/smallbiznis/bookvault/internal/order"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/order/event"
	"github.com/smallbiznis/bookvault/internal/payment"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"github.com/smallbiznis/bookvault/internal/ratelimit"
	"github.com/smallbiznis/bookvault/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	fx.Provide(registerGin),
	book.Module,
	order.Module,
	payment.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	orderSvc   orderdomain.Service
	paymentSvc paymentdomain.Service
	gateway    paymentdomain.Gateway
	hub        *event.Hub
	limiter    *ratelimit.TokenBucket
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	OrderSvc   orderdomain.Service
	PaymentSvc paymentdomain.Service
	Gateway    paymentdomain.Gateway
	Hub        *event.Hub
	Limiter    *ratelimit.TokenBucket `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		orderSvc:   p.OrderSvc,
		paymentSvc: p.PaymentSvc,
		gateway:    p.Gateway,
		hub:        p.Hub,
		limiter:    p.Limiter,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.rateLimitMiddleware())

	orders := v1.Group("/orders")
	{
		orders.POST("", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET("/:order_number", s.getOrder)
		orders.GET("/:order_number/events", s.streamOrderEvents)
		orders.POST("/:order_number/cancel", s.cancelOrder)
		orders.POST("/:order_number/refund", s.requestRefund)
		orders.POST("/:order_number/refund/resolve", s.resolveRefund)
	}

	v1.POST("/payments/webhook", s.paymentWebhook)
}
