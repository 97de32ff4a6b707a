package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/audit"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/drive"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/httpapi"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/obs"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PERMDEBT_COMMIT"))

	// Audit trail storage. Without a DSN the trail lives in memory,
	// which is enough for local development.
	var store audit.Store
	var pg *audit.PGStore
	if dsn := os.Getenv("PERMDEBT_PG_DSN"); dsn != "" {
		var err error
		pg, err = audit.OpenPG(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pg
	} else {
		log.Println("PERMDEBT_PG_DSN not set, using in-memory audit store")
		store = audit.NewMemStore()
	}

	driveOpts := []drive.Option{}
	if base := os.Getenv("PERMDEBT_DRIVE_BASE_URL"); base != "" {
		driveOpts = append(driveOpts, drive.WithBaseURL(base))
	}
	provider := drive.NewClient(driveOpts...)

	events := stream.New()

	workers := 1
	if raw := os.Getenv("PERMDEBT_AUDIT_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			log.Fatalf("invalid PERMDEBT_AUDIT_WORKERS %q", raw)
		}
		workers = n
	}

	runner := audit.NewRunner(provider, store,
		audit.WithWorkers(workers),
		audit.WithEvents(events),
	)

	rp := httpapi.ReadyProbe{}
	if pg != nil {
		rp.DB = pg.DB()
	}
	api := httpapi.New(rp, version, runner, store, events)

	addr := os.Getenv("PERMDEBT_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Stream responses stay open long past a normal request, so the
		// write timeout must cover them.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting permission-debt-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pg != nil {
		_ = pg.Close()
	}
	log.Println("Stopped")
}
