package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/librarydesk/circulation/internal/auth"
	"github.com/librarydesk/circulation/internal/config"
	"github.com/librarydesk/circulation/internal/database"
	"github.com/librarydesk/circulation/internal/logging"
	"github.com/librarydesk/circulation/internal/seed"
	"github.com/librarydesk/circulation/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	log.Info("Database seeded successfully")
}

func run(cfg *config.Config, log *logrus.Logger) (err error) {
	if err := database.Migrate(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if cerr := database.Close(db); cerr != nil {
			log.WithError(cerr).Warn("failed to close database")
			if err == nil {
				err = fmt.Errorf("close database: %w", cerr)
			}
		}
	}()

	seeder := &seed.Seeder{
		DB:     db,
		Hasher: auth.NewBcryptHasher(),
		Clock:  services.SystemClock(),
		Log:    log,
	}
	return seeder.Run()
}
