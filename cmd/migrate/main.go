package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/seanankenbruck/kql-resolver/internal/config"
	"github.com/seanankenbruck/kql-resolver/internal/database"
	"github.com/seanankenbruck/kql-resolver/internal/history"
)

func main() {
	path := flag.String("path", "./migrations", "directory holding the migration files")
	flag.Parse()

	direction := database.Up
	if flag.NArg() > 0 {
		direction = database.Direction(flag.Arg(0))
	}

	cfg, err := config.NewDefaultLoader().Load(context.Background())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pg := history.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}

	fmt.Printf("=== Running Database Migrations (%s) ===\n", direction)
	fmt.Printf("Connecting to database: %s@%s:%s/%s\n", pg.Username, pg.Host, pg.Port, pg.Database)

	if err := database.CheckDatabase(pg.DSN(), pg.Database); err != nil {
		log.Fatalf("Database connectivity failed: %v", err)
	}
	fmt.Println("✓ Database connectivity verified")

	if err := database.Migrate(database.MigrationConfig{
		DatabaseURL:    pg.URL(),
		MigrationsPath: *path,
	}, direction); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("✓ Database migrations completed successfully!")
}
