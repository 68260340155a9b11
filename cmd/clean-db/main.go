package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trialiq/console/internal/store/postgres"
	storeredis "github.com/trialiq/console/internal/store/redis"
)

// clean-db signs every console administrator out: it deletes all console
// sessions and, when a Redis address is given, every cached directory
// snapshot.
func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection URL")
	redisAddr := flag.String("redis", os.Getenv("REDIS_ADDR"), "redis address (optional)")
	redisPrefix := flag.String("redis-prefix", os.Getenv("REDIS_PREFIX"), "directory key prefix")
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("usage: clean-db -db <postgres-url> [-redis host:port]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, *dbURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("Revoking console sessions...")
	n, err := postgres.NewSessionRepository(db).DeleteAll(ctx)
	if err != nil {
		log.Fatalf("Failed to delete sessions: %v", err)
	}
	fmt.Printf("✓ %d sessions deleted\n", n)

	if *redisAddr == "" {
		return
	}
	client, err := storeredis.Open(ctx, storeredis.Config{Addr: *redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	purged, err := storeredis.NewDirectoryCache(client, *redisPrefix).Purge(ctx)
	if err != nil {
		log.Fatalf("Failed to purge directory snapshots: %v", err)
	}
	fmt.Printf("✓ %d directory snapshots purged\n", purged)
}
