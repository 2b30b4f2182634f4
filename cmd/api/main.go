package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/docstore"
	"github.com/atelierhq/atelier/internal/httpapi"
	"github.com/atelierhq/atelier/internal/mailer"
	"github.com/atelierhq/atelier/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("ATELIER_CONFIG"), "path to YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var db *sql.DB
	var store docstore.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err = sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = docstore.NewPG(db)
	case "memory":
		store = docstore.NewMemory()
	default:
		log.Fatalf("unknown store driver %q", cfg.Store.Driver)
	}

	var mail mailer.Mailer
	switch cfg.Mail.Driver {
	case "smtp":
		mail = &mailer.SMTP{
			Addr:     fmt.Sprintf("%s:%d", cfg.Mail.Host, cfg.Mail.Port),
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}
	default:
		mail = mailer.Log{}
	}

	manual, err := authz.LoadManualRules(cfg.Auth.ManualRulesPath)
	if err != nil {
		log.Fatalf("load manual auth rules: %v", err)
	}

	api := httpapi.New(cfg, store, mail, manual, version)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting atelier-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
