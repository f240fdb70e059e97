package routes

import (
	"github.com/gin-gonic/gin"

	"keap-export/config"
	"keap-export/controllers"
	"keap-export/middleware"
)

func SetupRoutes(router *gin.Engine, settings *config.Settings) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			public.POST("/login", controllers.Login(settings))

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Keap export status API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			runs := protected.Group("/runs")
			{
				runs.GET("", controllers.GetRuns)
				runs.GET("/:id", controllers.GetRun)
				runs.GET("/:id/requests", controllers.GetRunRequests)
			}

			protected.GET("/validation", controllers.GetValidation)
		}
	}
}
