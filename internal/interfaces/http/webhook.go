package http

import (
	"context"
	"io"
	"log"
	"net/http"

	"bankfeed/internal/domain/webhook"
)

// SignatureHeader carries the upstream HMAC signature.
const SignatureHeader = "Teller-Signature"

// WebhookReceiver is implemented by banksync.Reconciler.
type WebhookReceiver interface {
	Receive(ctx context.Context, signature string, body []byte) (*webhook.Event, error)
}

type WebhookHandler struct {
	receiver WebhookReceiver
}

func NewWebhookHandler(receiver WebhookReceiver) *WebhookHandler {
	return &WebhookHandler{receiver: receiver}
}

type WebhookResponse struct {
	Received  bool   `json:"received"`
	WebhookID string `json:"webhook_id"`
}

// HandleTeller handles POST /api/webhooks/teller. The raw body is passed on
// untouched since the signature covers its exact bytes. A 5xx answer makes
// the sender redeliver.
func (h *WebhookHandler) HandleTeller(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	event, err := h.receiver.Receive(r.Context(), r.Header.Get(SignatureHeader), body)
	if err != nil {
		if statusFor(err) < http.StatusInternalServerError {
			log.Printf("Webhook rejected: %v", err)
		}
		writeError(w, "webhook", err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, WebhookID: event.ID})
}
