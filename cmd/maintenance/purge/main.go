package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/schoolways/bus-tracker-backend/internal/config"
	"github.com/schoolways/bus-tracker-backend/internal/database"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		dbURLFlag     string
		retentionDays int
		timeZone      string
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.IntVar(&retentionDays, "retention-days", 14, "keep daily statuses and receipts for this many days")
	flag.StringVar(&timeZone, "time-zone", "America/Bogota", "service time zone used for date keys")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	clock, err := utils.NewServiceClock(timeZone)
	if err != nil {
		log.Fatalf("invalid time zone: %v", err)
	}

	// Build minimal database config without loading full app config
	dbCfg := config.DatabaseConfig{
		URL:                dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 2,
	}

	db, err := database.NewConnection(dbCfg, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to prepare schema: %v", err)
	}

	cron := services.NewCronService(
		database.NewPostgresDocumentStore(db),
		database.NewReceiptRepository(db),
		nil,
		clock,
		"",
		retentionDays,
		nil,
		logger,
	)

	fmt.Printf("Purging daily statuses and receipts older than %d days (today is %s)...\n", retentionDays, clock.Today())
	report, err := cron.RunCleanupNow(ctx)
	if err != nil {
		log.Fatalf("cleanup failed: %v", err)
	}

	fmt.Printf("Cutoff %s: %d daily documents, %d attendance entries, %d receipts removed in %s\n",
		report.Cutoff, report.DailyDocuments, report.Attendance, report.Receipts, report.Duration)

	for _, table := range []string{"documents", "notification_receipts"} {
		var count int
		if err := db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			fmt.Printf("  %s: error: %v\n", table, err)
			continue
		}
		fmt.Printf("  %s: %d rows remain\n", table, count)
	}
}
