package routes

import (
	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/handlers"
	"jcm-p2p-backend/internal/middleware"
)

type Options struct {
	JWTSecret  string
	CORSOrigin string
	UploadDir  string
	Limiter    *middleware.IPRateLimiter
}

func SetupRoutes(r *gin.Engine, h *handlers.Handler, opts Options) {
	r.Use(middleware.CORSMiddleware(opts.CORSOrigin))
	if opts.Limiter != nil {
		r.Use(middleware.RateLimitMiddleware(opts.Limiter))
	}

	r.GET("/ping", h.Ping)
	if opts.UploadDir != "" {
		r.Static("/uploads", opts.UploadDir)
	}

	api := r.Group("/api")
	{
		// Auth
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)

		// Gateway callbacks: M-Pesa carries ?token=, card notifications are re-verified
		payments := api.Group("/payments")
		{
			payments.POST("/mpesa/stk-callback", h.MPesaSTKCallback)
			payments.POST("/mpesa/b2c-result", h.MPesaB2CResult)
			payments.POST("/mpesa/b2c-timeout", h.MPesaB2CTimeout)
			payments.POST("/card/notification", h.HandleCardNotification)
		}

		// Everything below needs a bearer token
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(opts.JWTSecret))
		{
			protected.GET("/profile", h.GetProfile)
			protected.PUT("/profile/phone", h.UpdatePhone)
			protected.POST("/profile/picture", h.UploadPicture)

			protected.GET("/wallet", h.GetWallet)
			protected.POST("/wallet/transaction", h.Transaction)

			protected.GET("/markets", h.ListMarkets)
			protected.GET("/markets/:id", h.GetMarket)
			protected.POST("/create-market", h.CreateMarket)
			protected.PATCH("/markets/:id/visibility", h.SetVisibility)
			protected.POST("/markets/:id/resolve", h.ResolveMarket)
			protected.POST("/place-bet", h.PlaceBet)

			protected.GET("/messages", h.ListMessages)
			protected.POST("/messages", h.SendMessage)
			protected.GET("/messages/ws", h.MessagesWS)
		}
	}
}
