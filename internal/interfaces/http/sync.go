package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/shared/middleware"
)

// Syncer is implemented by banksync.Service.
type Syncer interface {
	SyncUser(ctx context.Context, userID int64) (*banksync.Summary, error)
	Link(ctx context.Context, params enrollment.LinkParams) (*enrollment.Enrollment, error)
}

type SyncHandler struct {
	sync Syncer
}

func NewSyncHandler(sync Syncer) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// LinkRequest is the outcome of the client-side linking flow.
type LinkRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	AccessToken  string `json:"access_token"`
	Institution  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"institution"`
}

type EnrollmentResponse struct {
	ID              string `json:"id"`
	InstitutionID   string `json:"institutionId"`
	InstitutionName string `json:"institutionName"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
}

// HandleSync handles POST /api/sync: a synchronous pass over every active
// enrollment of the caller. The pass keeps running if the client goes away.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.sync.SyncUser(context.WithoutCancel(r.Context()), userID)
	if err != nil {
		writeError(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleLinkEnrollment handles POST /api/enrollments. The initial sync runs
// after the response is sent.
func (h *SyncHandler) HandleLinkEnrollment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	params := enrollment.LinkParams{
		ID:              req.EnrollmentID,
		UserID:          userID,
		AccessToken:     req.AccessToken,
		InstitutionID:   req.Institution.ID,
		InstitutionName: req.Institution.Name,
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	enr, err := h.sync.Link(r.Context(), params)
	if err != nil {
		writeError(w, "link enrollment", err)
		return
	}

	writeJSON(w, http.StatusCreated, EnrollmentResponse{
		ID:              enr.ID,
		InstitutionID:   enr.InstitutionID,
		InstitutionName: enr.InstitutionName,
		Status:          enr.Status,
		CreatedAt:       enr.CreatedAt.Format(time.RFC3339),
	})
}
