// Package messages holds the user-facing notification texts. Defaults are
// compiled in; a JSON file can override any of them.
package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Render replaces {institution} and {status} placeholders.
func (m MessageText) Render(institution, status string) (title, body string) {
	r := strings.NewReplacer("{institution}", institution, "{status}", status)
	return r.Replace(m.Title), r.Replace(m.Body)
}

type Messages struct {
	EnrollmentDisconnected MessageText `json:"enrollment_disconnected"`
	EnrollmentExpired      MessageText `json:"enrollment_expired"`
	VerificationProcessed  MessageText `json:"verification_processed"`
	InitialSyncComplete    MessageText `json:"initial_sync_complete"`
}

// Defaults returns the built-in texts.
func Defaults() *Messages {
	return &Messages{
		EnrollmentDisconnected: MessageText{
			Title: "Bank connection lost",
			Body:  "Your connection to {institution} was disconnected. Reconnect to keep your accounts up to date.",
		},
		EnrollmentExpired: MessageText{
			Title: "Reconnect your bank",
			Body:  "Your access to {institution} has expired. Sign in again to resume syncing.",
		},
		VerificationProcessed: MessageText{
			Title: "Account verification",
			Body:  "Verification of your {institution} account finished: {status}.",
		},
		InitialSyncComplete: MessageText{
			Title: "Accounts linked",
			Body:  "Your {institution} accounts are ready.",
		},
	}
}

// Load reads path and overlays it on the defaults. An empty path returns
// the defaults.
func Load(path string) (*Messages, error) {
	msgs := Defaults()
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}

	var override Messages
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}

	merge(&msgs.EnrollmentDisconnected, override.EnrollmentDisconnected)
	merge(&msgs.EnrollmentExpired, override.EnrollmentExpired)
	merge(&msgs.VerificationProcessed, override.VerificationProcessed)
	merge(&msgs.InitialSyncComplete, override.InitialSyncComplete)
	return msgs, nil
}

func merge(dst *MessageText, src MessageText) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Body != "" {
		dst.Body = src.Body
	}
}
