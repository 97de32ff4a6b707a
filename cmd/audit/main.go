package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/audit"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/drive"
)

// One-shot audit run against a real storage account. Useful for smoke
// testing a provider token without standing up the API.
func main() {
	log.SetFlags(0)
	var (
		email   = flag.String("email", "", "Account email, used for the external-user check")
		token   = flag.String("token", os.Getenv("PERMDEBT_PROVIDER_TOKEN"), "Provider OAuth access token")
		dsn     = flag.String("dsn", os.Getenv("PERMDEBT_PG_DSN"), "PostgreSQL DSN, omit to keep results in memory")
		workers = flag.Int("workers", 1, "Permission fetch concurrency")
		timeout = flag.Duration("timeout", 2*time.Minute, "Overall run timeout")
		asJSON  = flag.Bool("json", false, "Print the full result as JSON")
	)
	flag.Parse()

	if *email == "" {
		log.Fatal("missing -email")
	}
	if *token == "" {
		log.Fatal("missing provider token: provide via -token or PERMDEBT_PROVIDER_TOKEN")
	}
	if *workers < 1 {
		log.Fatal("-workers must be at least 1")
	}

	var store audit.Store
	if *dsn != "" {
		pg, err := audit.OpenPG(*dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store = audit.NewMemStore()
	}

	principal := auth.Principal{ID: *email, Email: *email}
	runner := audit.NewRunner(drive.NewClient(), store, audit.WithWorkers(*workers))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, principal, *token)
	if err != nil {
		if audit.IsCredentialError(err) {
			log.Fatalf("provider rejected the token: %v", err)
		}
		if res == nil {
			log.Fatalf("run: %v", err)
		}
		log.Printf("run finished with errors: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("encode result: %v", err)
		}
		return
	}

	fmt.Printf("run %s: %d permissions classified, score %d/100\n", res.RunID, len(res.Records), res.Score)
	for _, rec := range res.Records {
		if rec.RiskLevel == "SAFE" {
			continue
		}
		fmt.Printf("  %-6s %s (%s, %s): %v\n", rec.RiskLevel, rec.FileName, rec.Email, rec.Role, rec.RiskReasons)
	}
	if res.Partial {
		fmt.Printf("partial result: %d failures\n", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Printf("  %s %s: %s\n", f.Stage, f.FileName, f.Error)
		}
		os.Exit(1)
	}
}
