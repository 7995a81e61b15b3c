// Command migrate applies or rolls back the embedded database migrations.
//
// Usage:
//
//	migrate up
//	migrate down
package main

import (
	"log"
	"os"

	"commonground/backend/internal/config"
	"commonground/backend/internal/db/migrate"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
		log.Fatalf("migrate %s: %v", direction, err)
	}
	log.Printf("migrate %s: done", direction)
}
