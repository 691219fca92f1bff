// reconcile-day runs ledger/partner reconciliation for one day and prints the
// report. Intended for Cloud Scheduler jobs and manual backfills.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   BUFFR_API_KEY=... go run ./cmd/reconcile-day -date 2026-08-27
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/buffrsync"
	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
)

func main() {
	dateFlag := flag.String("date", "", "reconciliation date (YYYY-MM-DD, default yesterday)")
	flag.Parse()

	date := time.Now().UTC().AddDate(0, 0, -1)
	if *dateFlag != "" {
		parsed, err := utils.ParseDate(*dateFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date %q: %v\n", *dateFlag, err)
			os.Exit(2)
		}
		date = parsed
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	partner, err := buffrsync.NewBuffrClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "partner client init failed: %v\n", err)
		os.Exit(1)
	}

	reconciler := buffrsync.NewReconciler(partner, buffrsync.NewDBReconStore())
	report, err := reconciler.Reconcile(context.Background(), date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
