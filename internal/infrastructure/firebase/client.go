package firebase

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"bankfeed/internal/domain/notification"
)

const fcmBatchLimit = 500

// TokenDeactivator marks a rejected FCM token inactive.
type TokenDeactivator func(ctx context.Context, token string) error

// multicastSender is the part of *messaging.Client the client uses.
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client implements notification.Messenger using Firebase Cloud Messaging
type Client struct {
	sender      multicastSender
	deactivator TokenDeactivator

	// invalidToken classifies per-token send errors
	invalidToken func(err error) bool
}

var _ notification.Messenger = (*Client)(nil)

// NewClient initializes a Firebase app from a service account file.
// deactivator is called for unregistered or invalid tokens and may be nil.
func NewClient(ctx context.Context, credentialsFile string, deactivator TokenDeactivator) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return newClient(msgClient, deactivator), nil
}

func newClient(sender multicastSender, deactivator TokenDeactivator) *Client {
	return &Client{
		sender:      sender,
		deactivator: deactivator,
		invalidToken: func(err error) bool {
			return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
		},
	}
}

// SendMulticast pushes a notification to every token, in batches of 500.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	var totalSuccess, totalFailure int
	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		msg := &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data:    data,
			Android: androidConfig(data),
			APNS:    apnsConfig(data),
		}

		resp, err := c.sender.SendEachForMulticast(ctx, msg)
		if err != nil {
			return fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		totalSuccess += resp.SuccessCount
		totalFailure += resp.FailureCount
		if resp.FailureCount > 0 {
			c.handleMulticastFailures(ctx, batch, resp)
		}
	}

	log.Printf("FCM multicast: %d success, %d failure", totalSuccess, totalFailure)
	return nil
}

func (c *Client) handleMulticastFailures(ctx context.Context, tokens []string, resp *messaging.BatchResponse) {
	for i, sendResp := range resp.Responses {
		if sendResp == nil || sendResp.Error == nil || i >= len(tokens) {
			continue
		}
		if !c.invalidToken(sendResp.Error) {
			log.Printf("FCM send error at index %d: %v", i, sendResp.Error)
			continue
		}
		log.Printf("Invalid FCM token at index %d, deactivating: %v", i, sendResp.Error)
		if c.deactivator == nil {
			continue
		}
		if err := c.deactivator(ctx, tokens[i]); err != nil {
			log.Printf("Failed to deactivate FCM token at index %d: %v", i, err)
		}
	}
}

// androidConfig sends sync and enrollment pushes at high priority so
// reconnect prompts are not deferred by doze mode. Disconnect pushes for
// the same enrollment collapse into one.
func androidConfig(data map[string]string) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			ChannelID: "bankfeed_" + routeOf(data),
		},
	}
	if id := data["enrollment_id"]; id != "" {
		cfg.CollapseKey = routeOf(data) + ":" + id
	}
	return cfg
}

func apnsConfig(data map[string]string) *messaging.APNSConfig {
	return &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Sound:    "default",
				ThreadID: routeOf(data),
			},
		},
	}
}

func routeOf(data map[string]string) string {
	if r := data["route"]; r != "" {
		return r
	}
	return "general"
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		chunks = append(chunks, tokens[i:min(i+size, len(tokens))])
	}
	return chunks
}
