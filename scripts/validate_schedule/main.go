package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	"github.com/noah-isme/signage-rotation-api/internal/service"
)

func main() {
	var (
		file    string
		preview int
		at      string
		seed    int64
	)

	flag.StringVar(&file, "file", "config/seed_schedule.json", "Path to the schedule document")
	flag.IntVar(&preview, "preview", 0, "Walk this many screens after validation")
	flag.StringVar(&at, "at", "", "Evaluate conditions at this RFC3339 instant (default: now)")
	flag.Int64Var(&seed, "seed", 0, "Fixed seed for variants draws (default: time-based)")
	flag.Parse()

	when := time.Now()
	if at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			log.Fatalf("invalid -at value: %v", err)
		}
		when = parsed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("failed to read schedule: %v", err)
	}

	doc, err := models.DecodeDocument(raw)
	if err != nil {
		fmt.Printf("MALFORMED %s\n  %v\n", file, err)
		os.Exit(1)
	}

	migrated, upgraded, err := service.MigrateDocument(doc)
	if err != nil {
		fmt.Printf("REJECTED %s\n  %v\n", file, err)
		os.Exit(1)
	}
	if err := service.ValidateDocument(migrated); err != nil {
		fmt.Printf("INVALID %s\n  %v\n", file, err)
		os.Exit(1)
	}

	fmt.Printf("OK %s\n", file)
	fmt.Printf("  Version: %d | Playlists: %d | Sequence steps: %d | Catalog screens: %d\n",
		migrated.Version, len(migrated.Playlists), len(migrated.Sequence), len(migrated.Catalog))
	if upgraded {
		fmt.Println("  Note: legacy flat sequence, would be migrated on commit")
	}

	if preview <= 0 {
		return
	}

	walker := service.NewWalker(service.WithWalkerRand(rand.New(rand.NewSource(seed))))
	state := service.NewWalkState()
	fmt.Printf("Preview (%d screens from %s):\n", preview, when.Format(time.RFC3339))
	for i := 0; i < preview; i++ {
		screen, err := walker.Advance(&migrated, state, when)
		if err != nil {
			fmt.Printf("  halted after %d screens: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("  %3d. %s\n", i+1, screen)
	}
}
