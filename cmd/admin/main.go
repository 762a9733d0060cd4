package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bankfeed/internal/app"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/infrastructure/postgres/listener"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
)

const defaultWorkers = 4

const usage = `Bankfeed Admin CLI - Management commands for the Bankfeed API

Usage:
  admin <command> [options]

Commands:
  sync             Sync a user's enrollments now, in this process
  notify-sync      Ask the running API server to sync a user or enrollment
  replay-webhook   Process a stored webhook event again
  token            Issue an access token for a user
  migrate          Apply the database schema

Examples:
  # Sync one user
  admin sync --user-id=1

  # Sync several users with more concurrency
  admin sync --user-id=1,2,3 --workers=8

  # Sync every user with an active enrollment
  admin sync --all --timeout=1h

  # Have the API server sync one enrollment
  admin notify-sync --user-id=1 --enrollment-id=enr_abc

  # Replay a webhook by delivery id
  admin replay-webhook --id=wh_123

  # Issue a token for local testing
  admin token --user-id=1 --email=dev@example.com
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "sync":
		runSync(os.Args[2:])
	case "notify-sync":
		runNotifySync(os.Args[2:])
	case "replay-webhook":
		runReplayWebhook(os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	userIDStr := fs.String("user-id", "", "User ID(s) to sync (comma-separated for multiple)")
	allUsers := fs.Bool("all", false, "Sync all users with an active enrollment")
	workers := fs.Int("workers", defaultWorkers, "Number of users synced concurrently")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userIDStr == "" && !*allUsers {
		fmt.Println("Error: must specify --user-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	engine, err := app.NewEngine(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to build sync engine: %v", err)
	}

	var userIDs []int64
	if *allUsers {
		userIDs, err = activeUserIDs(ctx, engine.Sync)
		if err != nil {
			log.Fatalf("Failed to list enrollments: %v", err)
		}
		log.Printf("Found %d users with active enrollments", len(userIDs))
	} else {
		userIDs, err = parseUserIDs(*userIDStr)
		if err != nil {
			log.Fatal(err)
		}
	}

	if len(userIDs) == 0 {
		log.Println("No users to process")
		return
	}

	log.Printf("Starting sync for %d user(s) with %d workers", len(userIDs), *workers)
	startTime := time.Now()

	var mu sync.Mutex
	results := make(map[int64]*banksync.Summary, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for _, uid := range userIDs {
		g.Go(func() error {
			summary, err := engine.Sync.SyncUser(gctx, uid)
			if err != nil {
				summary = &banksync.Summary{Errors: []string{err.Error()}}
			}
			mu.Lock()
			results[uid] = summary
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, uid := range userIDs {
		printSummary(uid, results[uid])
	}

	log.Printf("Sync completed in %v", time.Since(startTime))
}

// activeUserIDs returns each user with an active enrollment once, in
// ascending order.
func activeUserIDs(ctx context.Context, svc *banksync.Service) ([]int64, error) {
	enrollments, err := svc.ListActiveEnrollments(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, e := range enrollments {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			ids = append(ids, e.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user ID '%s'", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printSummary(userID int64, summary *banksync.Summary) {
	fmt.Printf("\n=== User %d ===\n", userID)
	if summary == nil {
		fmt.Println("  Not processed")
		return
	}
	fmt.Printf("  Accounts synced:      %d\n", summary.AccountsSynced)
	fmt.Printf("  Transactions synced:  %d\n", summary.TransactionsSynced)

	if len(summary.Errors) > 0 {
		fmt.Printf("  Errors:               %d\n", len(summary.Errors))
		for i, e := range summary.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(summary.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func runNotifySync(args []string) {
	fs := flag.NewFlagSet("notify-sync", flag.ExitOnError)

	userID := fs.Int64("user-id", 0, "User to sync")
	enrollmentID := fs.String("enrollment-id", "", "Sync only this enrollment")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	req := listener.SyncRequest{UserID: *userID, EnrollmentID: *enrollmentID}
	if err := req.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		fs.PrintDefaults()
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exec := func(ctx context.Context, query string, args ...any) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	}
	if err := listener.Publish(ctx, exec, req); err != nil {
		log.Fatalf("Failed to publish sync request: %v", err)
	}
	log.Printf("Published sync request on %s", listener.Channel)
}

func runReplayWebhook(args []string) {
	fs := flag.NewFlagSet("replay-webhook", flag.ExitOnError)

	id := fs.String("id", "", "Webhook delivery ID")
	timeoutStr := fs.String("timeout", "5m", "Timeout for the operation")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *id == "" {
		fmt.Println("Error: must specify --id")
		fs.PrintDefaults()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	engine, err := app.NewEngine(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to build sync engine: %v", err)
	}

	if err := engine.Reconciler.Replay(ctx, *id); err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	log.Printf("Webhook %s replayed", *id)
}

func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)

	userID := fs.Int64("user-id", 0, "User the token is issued for")
	email := fs.String("email", "", "Email claim")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userID <= 0 {
		fmt.Println("Error: must specify --user-id")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, err := auth.NewJWT(cfg.JWT.Secret).Generate(*userID, *email)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func connect() (*config.Config, *postgres.DB) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := app.OpenDB(context.Background(), cfg, false)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return cfg, db
}
