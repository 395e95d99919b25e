// Package router assembles the gin engine and route groups.
package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ModoriLabs/zk-escrow/internal/config"
	"github.com/ModoriLabs/zk-escrow/internal/handlers"
	"github.com/ModoriLabs/zk-escrow/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	AdminAuth *handlers.AdminAuthHandler
	Deposits  *handlers.DepositHandler
	Intents   *handlers.IntentHandler
	Admin     *handlers.AdminHandler
	WebSocket *handlers.WebSocketHandler
}

// New builds the gin engine with all routes mounted.
func New(cfg *config.Config, auth *middleware.AuthMiddleware, h Handlers, logger *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))

	r.GET("/health", handlers.HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.WebSocket.Handle)

	api := r.Group("/api/v1")
	{
		api.GET("/auth/nonce", h.Auth.NonceHandler)
		api.POST("/auth/login", h.Auth.LoginHandler)
		api.POST("/admin/login", h.AdminAuth.LoginHandler)

		// Public reads.
		api.GET("/deposits", h.Deposits.ListHandler)
		api.GET("/deposits/:id", h.Deposits.GetHandler)
		api.GET("/intents/:id", h.Intents.GetHandler)

		// Settlement endpoints are permissionless: proofs authorize
		// themselves and expiry is objective.
		api.POST("/intents/:id/fulfill", h.Intents.FulfillHandler)
		api.POST("/intents/:id/expire", h.Intents.ExpireHandler)

		user := api.Group("")
		user.Use(auth.RequireAuth())
		{
			user.POST("/deposits", h.Deposits.CreateHandler)
			user.POST("/deposits/:id/increase", h.Deposits.IncreaseHandler)
			user.PUT("/deposits/:id/intent-range", h.Deposits.IntentRangeHandler)
			user.PUT("/deposits/:id/conversion-rate", h.Deposits.ConversionRateHandler)
			user.POST("/deposits/:id/withdraw", h.Deposits.WithdrawHandler)

			user.POST("/intents", h.Intents.CreateHandler)
			user.GET("/intents", h.Intents.ListMineHandler)
			user.POST("/intents/:id/cancel", h.Intents.CancelHandler)
		}

		admin := api.Group("/admin")
		admin.Use(auth.RequireAdmin())
		{
			admin.GET("/registry/writers", h.Admin.ListWritersHandler)
			admin.POST("/registry/writers", h.Admin.AddWriterHandler)
			admin.DELETE("/registry/writers", h.Admin.RemoveWriterHandler)

			admin.POST("/verifiers/whitelist", h.Admin.WhitelistVerifierHandler)
			admin.DELETE("/verifiers/whitelist", h.Admin.RemoveVerifierHandler)
			admin.POST("/verifiers/escrows", h.Admin.RegisterEscrowHandler)
		}
	}

	logger.WithField("routes", len(r.Routes())).Info("Router assembled")
	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0 ||
		(len(allowedOrigins) == 1 && allowedOrigins[0] == "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					c.Header("Vary", "Origin")
					break
				}
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Header("Access-Control-Max-Age", "3600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
