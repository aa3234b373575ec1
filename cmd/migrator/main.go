package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/pradum97/jsondeck-sub000/internal/config"
	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/storage/mongodb"
	"github.com/pradum97/jsondeck-sub000/internal/storage/sqlite"
)

func main() {
	var configPath string
	var migrationsPath string
	var seedSubscriptions bool
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "path to sqlite migrations")
	flag.BoolVar(&seedSubscriptions, "seed", false, "seed dev subscription snapshots")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.LoadConfig(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.Storage {
	case "mongo":
		migrateMongo(ctx, cfg, seedSubscriptions)
	case "sqlite":
		migrateSQLite(ctx, cfg, migrationsPath, seedSubscriptions)
	default:
		log.Fatalf("unknown storage backend: %s", cfg.Storage)
	}

	fmt.Println("Database initialization completed successfully")
}

// migrateMongo creates collections and indexes; the TTL index on
// refresh_tokens.expires_at is the out-of-band expiry sweep.
func migrateMongo(ctx context.Context, cfg *config.Config, seed bool) {
	log.Println("Connecting to MongoDB...")

	storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer storage.Close(ctx)

	log.Println("MongoDB connected, indexes created successfully")

	if seed {
		seedDevSubscriptions(ctx, storage)
	}
}

func migrateSQLite(ctx context.Context, cfg *config.Config, migrationsPath string, seed bool) {
	log.Println("Applying SQLite migrations...")

	m, err := migrate.New("file://"+migrationsPath, "sqlite3://"+cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No new migrations to apply")
		} else {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Fatalf("failed to close migrator: %v / %v", srcErr, dbErr)
	}

	log.Println("SQLite migrations applied")

	if seed {
		storage, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite storage: %v", err)
		}
		defer storage.Close()

		seedDevSubscriptions(ctx, storage)
	}
}

type subscriptionSeeder interface {
	SeedSubscription(ctx context.Context, sub *models.Subscription) error
}

// seedDevSubscriptions plants a pro and a team snapshot for the first
// two local users, mirroring what the billing webhook would write.
func seedDevSubscriptions(ctx context.Context, storage subscriptionSeeder) {
	log.Println("Seeding dev subscriptions...")

	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	subs := []*models.Subscription{
		{
			UserID:           1,
			Status:           models.SubscriptionStatusActive,
			PlanCode:         "pro_monthly",
			Seats:            1,
			CurrentPeriodEnd: &periodEnd,
		},
		{
			UserID:           2,
			Status:           models.SubscriptionStatusActive,
			PlanCode:         "team_monthly",
			Seats:            5,
			CurrentPeriodEnd: &periodEnd,
		},
	}

	for _, sub := range subs {
		if err := storage.SeedSubscription(ctx, sub); err != nil {
			log.Fatalf("failed to seed subscription for user %d: %v", sub.UserID, err)
		}
		log.Printf("Subscription seeded (user=%d, plan=%s)", sub.UserID, sub.PlanCode)
	}
}
