package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/trialiq/console/internal/store/postgres"
)

// cleanup removes expired console sessions. Run it from cron when the
// server's hourly sweep is not enough.
func main() {
	url := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: cleanup <postgres-url> (or set DATABASE_URL)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	n, err := postgres.NewSessionRepository(db).DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Removed %d expired console sessions.\n", n)
}
