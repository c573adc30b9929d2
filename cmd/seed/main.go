// Command seed populates the document store with generated engagement
// targets for development environments.
package main

import (
	"context"
	"flag"
	"log"

	"ripple/internal/config"
	"ripple/internal/docstore"
	"ripple/internal/seed"
)

func main() {
	numTargets := flag.Int("targets", 30, "number of targets to create")
	maxLikes := flag.Int("max-likes", 25, "maximum likes per target")
	randSeed := flag.Uint64("seed", 0, "generator seed (0 = random)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		log.Fatal("Refusing to seed a production environment")
	}

	ctx := context.Background()
	store, err := docstore.NewFirestoreStore(ctx, cfg.FirestoreProject, cfg.FirestoreDatabase)
	if err != nil {
		log.Fatalf("Failed to connect document store: %v", err)
	}
	defer store.Close()

	if err := seed.Targets(ctx, store, seed.Options{
		NumTargets: *numTargets,
		MaxLikes:   *maxLikes,
		Seed:       *randSeed,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
