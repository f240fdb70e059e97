package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"keap-export/config"
	"keap-export/routes"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize database
	config.InitDB(settings)

	// Set Gin mode
	if settings.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Add security headers middleware
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	routes.SetupRoutes(router, settings)

	log.Printf("Status API listening on %s", settings.StatusAddr)
	if err := router.Run(settings.StatusAddr); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
