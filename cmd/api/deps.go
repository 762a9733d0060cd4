package main

import (
	"context"

	"bankfeed/internal/app"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/infrastructure/postgres"
	httphandlers "bankfeed/internal/interfaces/http"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	AccountHandler      *httphandlers.AccountHandler
	SyncHandler         *httphandlers.SyncHandler
	WebhookHandler      *httphandlers.WebhookHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// For the scheduler and the sync request listener
	SyncService *banksync.Service
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := app.OpenDB(ctx, cfg, cfg.Database.Migrate)
	if err != nil {
		return nil, err
	}

	engine, err := app.NewEngine(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Dependencies{
		DB:                  db,
		AccountHandler:      httphandlers.NewAccountHandler(engine.Accounts, engine.Sync),
		SyncHandler:         httphandlers.NewSyncHandler(engine.Sync),
		WebhookHandler:      httphandlers.NewWebhookHandler(engine.Reconciler),
		NotificationHandler: httphandlers.NewNotificationHandler(engine.Notifications),
		JWT:                 auth.NewJWT(cfg.JWT.Secret),
		SyncService:         engine.Sync,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
