package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"keap-export/config"
	"keap-export/keap"
	"keap-export/models"
	"keap-export/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var (
		since       string
		entitiesRaw string
		dryRun      bool
		resume      bool
		notify      bool
		notes       string
	)

	flag.StringVar(&since, "since", "", "only fetch records modified since this ISO 8601 timestamp (optional)")
	flag.StringVar(&entitiesRaw, "entities", "", "comma separated list of entities to sync (optional, default all)")
	flag.BoolVar(&dryRun, "dry-run", false, "fetch and report without writing anything")
	flag.BoolVar(&resume, "resume", false, "continue the most recent interrupted run")
	flag.BoolVar(&notify, "notify", false, "email the run summary to NOTIFY_TO")
	flag.StringVar(&notes, "notes", "", "free-form note stored on the run (optional)")
	flag.Parse()

	if resume && dryRun {
		log.Fatal("-resume and -dry-run cannot be combined")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	config.InitLogging()
	logger := config.NewSyncLogger()
	defer logger.Sync()

	config.InitDB(settings)
	if err := models.MigrateAll(config.DB); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := keap.NewClient(settings, nil)
	fetcher := keap.NewFetcher(client, settings, logger)

	svc, err := services.NewSyncService(config.DB, fetcher, settings, logger)
	if err != nil {
		log.Fatalf("invalid entity graph: %v", err)
	}

	summary, err := svc.RunAll(ctx, &services.SyncAllInput{
		Entities: splitEntities(entitiesRaw),
		Since:    since,
		DryRun:   dryRun,
		Resume:   resume,
		Notes:    notes,
	})
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}

	printSummary(summary)

	if notify && !summary.DryRun {
		notifier := services.NewNotifier(settings, logger)
		if err := notifier.NotifyRunFinished(summary); err != nil {
			log.Printf("notification failed: %v", err)
		}
	}

	if summary.Failed() || (summary.Validation != nil && !summary.Validation.Passed) {
		os.Exit(2)
	}
}

func splitEntities(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

func printSummary(summary *services.SyncSummary) {
	if summary.DryRun {
		fmt.Println("Dry run (no writes):")
	} else {
		fmt.Printf("Run %s finished in %s\n", summary.PublicID, summary.Duration.Round(time.Millisecond))
	}
	for _, r := range summary.Results {
		line := fmt.Sprintf("  %-15s %-10s items: %d, pages: %d", r.Entity, r.Status, r.Items, r.Pages)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Println(line)
	}
	if summary.Validation != nil {
		state := "passed"
		if !summary.Validation.Passed {
			state = "FAILED"
		}
		fmt.Printf("Validation %s (%d checks, %d with findings)\n",
			state, len(summary.Validation.Checks), summary.Validation.FailingChecks())
	}
}
