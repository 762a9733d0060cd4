// Package listener receives sync requests published over PostgreSQL
// LISTEN/NOTIFY, so other processes can trigger work in the API server.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	// Channel carries JSON-encoded SyncRequest payloads
	Channel           = "bankfeed_sync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// SyncRequest asks for a sync of one user, or of one enrollment when
// EnrollmentID is set.
type SyncRequest struct {
	UserID       int64  `json:"user_id"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
}

// Validate checks that the request names something to sync.
func (r SyncRequest) Validate() error {
	if r.UserID <= 0 && r.EnrollmentID == "" {
		return errors.New("sync request needs a user id or enrollment id")
	}
	return nil
}

// Handler runs one sync request.
type Handler func(ctx context.Context, req SyncRequest)

// Publish sends req on Channel through exec, which is typically
// (*postgres.DB).ExecContext.
func Publish(ctx context.Context, exec func(ctx context.Context, query string, args ...any) error, req SyncRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode sync request: %w", err)
	}
	if err := exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish sync request: %w", err)
	}
	return nil
}

// SyncListener listens for sync requests and hands them to a Handler
type SyncListener struct {
	connStr    string
	handle     Handler
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewSyncListener creates a listener on its own connection to connStr
func NewSyncListener(connStr string, handle Handler) *SyncListener {
	return &SyncListener{
		connStr:    connStr,
		handle:     handle,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Sync request listener started")
}

// Stop shuts the listener down and waits for it to exit
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Sync request listener stopped")
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for sync requests...")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	pl := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer pl.Close()

	if err := pl.Listen(Channel); err != nil {
		log.Printf("Failed to listen on channel %s: %v", Channel, err)
		return
	}
	log.Printf("Listening on channel: %s", Channel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-pl.Notify:
			if n == nil {
				// connection lost; reconnect
				return
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := pl.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

// dispatch decodes one payload and runs it on a context detached from the
// listener so shutdown does not cut a sync short.
func (l *SyncListener) dispatch(ctx context.Context, payload string) {
	req, err := Decode(payload)
	if err != nil {
		log.Printf("Ignoring sync request: %v", err)
		return
	}
	go l.handle(context.WithoutCancel(ctx), req)
}

// Decode parses and validates a notification payload.
func Decode(payload string) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return SyncRequest{}, fmt.Errorf("malformed payload: %w", err)
	}
	if err := req.Validate(); err != nil {
		return SyncRequest{}, err
	}
	return req, nil
}
