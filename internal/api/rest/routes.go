package rest

import (
	"github.com/Dhoini/billing-scheduler/internal/api/rest/handlers"
	"github.com/Dhoini/billing-scheduler/internal/api/rest/middleware"
	"github.com/Dhoini/billing-scheduler/internal/service"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(svc service.BillingService, sched handlers.Scheduler, registry *prometheus.Registry, log *logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(sched)
	paymentHandler := handlers.NewPaymentHandler(svc, log)
	subscriptionHandler := handlers.NewSubscriptionHandler(svc, log)
	schedulerHandler := handlers.NewSchedulerHandler(sched, log)
	dashboardHandler := handlers.NewDashboardHandler(svc)

	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		// Разовые платежи и журнал транзакций
		v1.POST("/payments", paymentHandler.CreatePayment)
		transactions := v1.Group("/transactions")
		{
			transactions.GET("", paymentHandler.GetTransactions)
			transactions.GET("/:id", paymentHandler.GetTransaction)
		}

		// Подписки
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("", subscriptionHandler.GetSubscriptions)
			subscriptions.POST("", subscriptionHandler.CreateSubscription)
			subscriptions.GET("/:id", subscriptionHandler.GetSubscription)
			subscriptions.POST("/:id/pause", subscriptionHandler.PauseSubscription)
			subscriptions.POST("/:id/resume", subscriptionHandler.ResumeSubscription)
			subscriptions.POST("/:id/cancel", subscriptionHandler.CancelSubscription)
		}

		// Ручной запуск пакета и состояние планировщика
		scheduler := v1.Group("/scheduler")
		{
			scheduler.POST("/process", schedulerHandler.ProcessNow)
			scheduler.GET("/status", schedulerHandler.Status)
		}

		v1.GET("/dashboard", dashboardHandler.GetDashboard)
	}

	return r
}
