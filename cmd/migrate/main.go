package main

import (
	"context"
	"flag"
	"time"

	"github.com/dvloznov/ledgerbook/internal/config"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/reporting"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/dvloznov/ledgerbook/migrations"
)

func main() {
	dsn := flag.String("dsn", "", "Postgres DSN (overrides database.dsn)")
	appliedBy := flag.String("applied-by", "migrate-cli", "Name recorded against applied migrations")
	skipBigQuery := flag.Bool("skip-bigquery", false, "Do not create the BigQuery ledger table")
	flag.Parse()

	bootLog := logger.New()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if cfg.Database.DSN == "" {
		log.Fatal().Msg("A database DSN is required: set database.dsn, LEDGERBOOK_DATABASE_DSN or -dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := store.Open(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := store.Migrate(db.WithContext(ctx)); err != nil {
		log.Fatal().Err(err).Msg("Failed to sync schema")
	}
	log.Info().Msg("Schema synced")

	all, err := readMigrations(migrations.Postgres, "postgres", log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	r := &runner{db: db, appliedBy: *appliedBy, log: log}
	n, err := r.Run(ctx, all)
	if err != nil {
		log.Fatal().Err(err).Int("applied", n).Msg("Migration failed")
	}
	if n == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", n).Msg("Applied migrations")
	}

	if *skipBigQuery || cfg.Reporting.ProjectID == "" {
		return
	}
	exporter, err := reporting.NewBigQueryExporter(ctx, cfg.Reporting.ProjectID, cfg.Reporting.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer exporter.Close()
	if err := exporter.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger table")
	}
	log.Info().Str("project", cfg.Reporting.ProjectID).Str("dataset", cfg.Reporting.Dataset).Msg("Ledger table ready")
}
