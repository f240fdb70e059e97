package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"keap-export/config"
	"keap-export/models"
	"keap-export/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var runPublicID string
	flag.StringVar(&runPublicID, "run", "", "run public id to compare tracker counters against (optional)")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	config.InitLogging()
	logger := config.NewSyncLogger()
	defer logger.Sync()

	config.InitDB(settings)

	ctx := context.Background()

	var runID uint64
	if runPublicID != "" {
		var run models.EtlRun
		if err := config.DB.Where("public_id = ?", runPublicID).First(&run).Error; err != nil {
			log.Fatalf("run %s not found: %v", runPublicID, err)
		}
		runID = run.ID
	}

	validator := services.NewValidationService(config.DB, logger)
	report, err := validator.ValidateRun(ctx, runID)
	if err != nil {
		log.Fatalf("validation failed to execute: %v", err)
	}

	for _, check := range report.Checks {
		marker := "ok"
		if check.Findings > 0 {
			marker = fmt.Sprintf("%d findings", check.Findings)
			if check.Informational {
				marker += " (informational)"
			}
		}
		line := fmt.Sprintf("  %-35s %s", check.Name, marker)
		if check.Detail != "" {
			line += " - " + check.Detail
		}
		fmt.Println(line)
	}

	if report.Passed {
		fmt.Println("Validation passed")
		return
	}
	fmt.Println("Validation FAILED")
	os.Exit(2)
}
