package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trialiq/console/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	// Connection string from args or DATABASE_URL
	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("usage: migrate <postgres-url> (or set DATABASE_URL)")
	}

	db, err := postgres.Open(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("✓ Connected to database")

	fmt.Println("Running 001_console_sessions.up.sql...")
	if err := db.Migrate(ctx, postgres.SessionSchema); err != nil {
		log.Fatalf("Failed to apply session schema: %v", err)
	}

	fmt.Println("✓ All migrations completed successfully!")
}
