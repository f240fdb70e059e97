package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"keap-export/config"
	"keap-export/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var days int
	flag.IntVar(&days, "days", 90, "delete runs older than this many days")
	flag.Parse()

	if days <= 0 {
		log.Fatal("days must be greater than 0")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	config.InitLogging()
	logger := config.NewSyncLogger()
	defer logger.Sync()

	config.InitDB(settings)

	tracker := services.NewRunTracker(config.DB, logger)
	deleted, err := tracker.PruneRuns(context.Background(), time.Duration(days)*24*time.Hour)
	if err != nil {
		log.Fatalf("prune failed: %v", err)
	}

	fmt.Printf("Deleted %d runs older than %d days\n", deleted, days)
}
