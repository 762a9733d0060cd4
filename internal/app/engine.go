// Package app assembles the sync engine from configuration, so the API
// server and the admin CLI run the same wiring.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/domain/webhook"
	"bankfeed/internal/infrastructure/crypto"
	"bankfeed/internal/infrastructure/dedupe"
	"bankfeed/internal/infrastructure/firebase"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/infrastructure/ratelimit"
	"bankfeed/internal/infrastructure/respcache"
	"bankfeed/internal/infrastructure/teller"
	"bankfeed/internal/shared/clock"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/messages"
)

// Engine holds the domain services built on one database pool.
type Engine struct {
	Accounts      *account.Service
	Enrollments   *enrollment.Service
	Notifications *notification.Service
	Sync          *banksync.Service
	Reconciler    *banksync.Reconciler
}

// OpenDB connects to the configured database and applies the schema when
// DB_MIGRATE is set.
func OpenDB(ctx context.Context, cfg *config.Config, migrate bool) (*postgres.DB, error) {
	db, err := postgres.New(cfg.Database.ConnectionString(), postgres.Pool{
		MaxOpen:     cfg.Database.MaxOpenConns,
		MaxIdle:     cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// NewEngine wires repositories, the upstream request path and the sync
// services. Push delivery is skipped when no Firebase credentials are set.
func NewEngine(ctx context.Context, cfg *config.Config, db *postgres.DB) (*Engine, error) {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	// Repositories
	enrollmentRepo := postgres.NewEnrollmentRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	webhookRepo := postgres.NewWebhookRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Domain services
	enrollmentService := enrollment.NewService(enrollmentRepo, encryptor)
	accountService := account.NewService(accountRepo)
	transactionService := transaction.NewService(transactionRepo)

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			log.Printf("Warning: push notifications disabled: %v", err)
		} else {
			messenger = fcm
		}
	} else {
		log.Println("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
	}
	notificationService := notification.NewService(notificationRepo, messenger)

	msgs, err := messages.Load(cfg.Firebase.MessagesFile)
	if err != nil {
		return nil, err
	}

	tellerClient, err := teller.NewClient(teller.ClientConfig{
		BaseURL:  cfg.Teller.BaseURL,
		CertPath: cfg.Teller.CertPath,
		KeyPath:  cfg.Teller.KeyPath,
		Timeout:  cfg.Teller.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create teller client: %w", err)
	}

	// Every upstream call goes through cache, deduplicator and limiter
	clk := clock.System{}
	gateway := teller.NewGateway(
		tellerClient,
		respcache.New(clk),
		dedupe.New(),
		ratelimit.New(ratelimit.Limits{
			GlobalPerMinute:  cfg.RateLimit.GlobalPerMinute,
			GlobalConcurrent: cfg.RateLimit.GlobalConcurrent,
			UserPerMinute:    cfg.RateLimit.UserPerMinute,
			UserConcurrent:   cfg.RateLimit.UserConcurrent,
			Window:           time.Minute,
		}, clk),
		teller.TTLs{
			Accounts:     cfg.Cache.AccountsTTL,
			Transactions: cfg.Cache.TransactionsTTL,
			Balances:     cfg.Cache.BalancesTTL,
			Details:      cfg.Cache.DetailsTTL,
		},
	)

	orchestrator := banksync.NewOrchestrator(
		gateway,
		accountService,
		transactionService,
		enrollmentService,
		notificationService,
		msgs,
		clk,
		banksync.Options{
			Window: banksync.WindowPolicy{
				LookbackDays: cfg.Sync.LookbackDays,
				BufferDays:   cfg.Sync.BufferDays,
			},
			TransactionCount: cfg.Sync.TransactionCount,
			BatchSize:        cfg.Sync.BatchSize,
			BatchPause:       cfg.Sync.BatchPause,
		},
	)
	syncService := banksync.NewService(orchestrator)

	return &Engine{
		Accounts:      accountService,
		Enrollments:   enrollmentService,
		Notifications: notificationService,
		Sync:          syncService,
		Reconciler: banksync.NewReconciler(
			syncService,
			webhookRepo,
			webhook.NewVerifier(cfg.Teller.WebhookSecrets, cfg.Teller.WebhookTolerance, clk),
		),
	}, nil
}
