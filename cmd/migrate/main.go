package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/migrate"
)

func main() {
	configPath := flag.String("config", os.Getenv("ATELIER_CONFIG"), "path to YAML config file")
	migrationsDir := flag.String("migrations", "migrations", "directory with *.up.sql / *.down.sql files")
	seedsDir := flag.String("seeds", "seeds", "directory with <collection>.json seed files")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		log.Fatalf("migrations require the postgres store driver, have %q", cfg.Store.Driver)
	}

	db, err := sql.Open("pgx", cfg.Store.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)
	ctx := context.Background()

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q, want up, down, seed or status", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
