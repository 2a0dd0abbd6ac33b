// Package server exposes the thin HTTP surface over the billing core.
package server

import (
	"context"
	"net/http"
	"time"

	billingdomain "github.com/aptora/aptora/internal/billing/domain"
	"github.com/aptora/aptora/internal/config"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	FeeSvc          feedomain.Service
	PaymentSvc      paymentdomain.Service
	BillingSvc      billingdomain.Service
	NotificationSvc notificationdomain.Service
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	feeSvc          feedomain.Service
	paymentSvc      paymentdomain.Service
	billingSvc      billingdomain.Service
	notificationSvc notificationdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		feeSvc:          p.FeeSvc,
		paymentSvc:      p.PaymentSvc,
		billingSvc:      p.BillingSvc,
		notificationSvc: p.NotificationSvc,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.POST("/fees", s.HandleCreateFee)
	r.GET("/fees", s.HandleListFees)
	r.GET("/fees/:id", s.HandleGetFee)
	r.POST("/fees/:id/cancel", s.HandleCancelFee)
	r.POST("/fees/:id/payments", s.HandleApplyPayment)

	r.POST("/billing/generate", s.HandleGenerateBatch)

	r.POST("/webhooks/payment/:provider", s.HandlePaymentWebhook)

	r.POST("/notifications", s.HandleSendNotification)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
