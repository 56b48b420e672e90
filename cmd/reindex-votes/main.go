// Recomputes definition vote counters from the votes table and checks the
// in-memory vote index built from the same rows.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"Sutian/internal/api/middleware"
	"Sutian/internal/config"
	"Sutian/internal/core/votes"
	postgresRepo "Sutian/internal/db/postgres"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "only report the integrity check, do not rewrite counters")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	log.Printf("Connecting to database...")
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	cfg := votes.DefaultConfig()
	cfg.RemoteTimeout = 5 * time.Minute
	cfg.BreakerThreshold = 0
	cfg.AggregateRefreshPerSecond = 0
	coordinator, err := votes.NewCoordinator(
		votes.NewVoteModel(),
		postgresRepo.NewVoteRepository(db, nil),
		middleware.ContextIdentity{},
		cfg,
		nil,
	)
	if err != nil {
		log.Fatalf("Failed to create vote coordinator: %v", err)
	}

	log.Printf("Loading votes...")
	n, err := coordinator.LoadFromStore(ctx)
	if err != nil {
		log.Fatalf("Failed to load votes: %v", err)
	}
	log.Printf("Loaded %d votes", n)

	report := coordinator.Integrity()
	if !report.IsValid {
		for _, msg := range report.Errors {
			log.Printf("Integrity error: %s", msg)
		}
		log.Fatalf("Vote index integrity check failed with %d errors", len(report.Errors))
	}
	log.Printf("Vote index integrity check passed")

	if *dryRun {
		return
	}

	log.Printf("Recounting definition vote counters...")
	fixed, err := postgresRepo.NewDefinitionRepository(db).RecountVotes(ctx)
	if err != nil {
		log.Fatalf("Failed to recount votes: %v", err)
	}
	log.Printf("Done: corrected counters on %d definitions", fixed)

	for _, t := range coordinator.TopTargets(5) {
		log.Printf("  top: %s score=%d", t.TargetID, t.Score)
	}
}
