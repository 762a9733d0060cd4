package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bankfeed/internal/domain/notification"
	"bankfeed/internal/shared/middleware"
)

// NotificationService is implemented by notification.Service.
type NotificationService interface {
	RegisterDevice(ctx context.Context, params notification.RegisterDeviceParams) (*notification.Device, error)
	ListNotifications(ctx context.Context, userID int64, page, perPage int) (*notification.Page, error)
	MarkRead(ctx context.Context, userID int64, ids []string) (int64, error)
}

type NotificationHandler struct {
	notifications NotificationService
}

func NewNotificationHandler(notifications NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

type DeviceResponse struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
	Active     bool   `json:"active"`
}

type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

type NotificationResponse struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Read      bool              `json:"read"`
	CreatedAt string            `json:"created_at"`
	Data      map[string]string `json:"data"`
}

type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Unread        int                    `json:"unread"`
	Pagination    PaginationResponse     `json:"pagination"`
}

type PaginationResponse struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

// HandleNotifications handles GET /api/notifications/?page=&per_page=
func (h *NotificationHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, perPage = notification.NormalizePaging(page, perPage)

	result, err := h.notifications.ListNotifications(r.Context(), userID, page, perPage)
	if err != nil {
		writeError(w, "list notifications", err)
		return
	}

	items := make([]NotificationResponse, 0, len(result.Items))
	for _, n := range result.Items {
		items = append(items, toNotificationResponse(n))
	}

	writeJSON(w, http.StatusOK, NotificationListResponse{
		Notifications: items,
		Unread:        result.Unread,
		Pagination: PaginationResponse{
			Page:    result.Page,
			PerPage: result.PerPage,
			Total:   result.Total,
			Pages:   result.Pages(),
		},
	})
}

// HandleRegisterDevice handles POST /api/notifications/register-device/
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	device, err := h.notifications.RegisterDevice(r.Context(), notification.RegisterDeviceParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		writeError(w, "register device", err)
		return
	}

	writeJSON(w, http.StatusCreated, DeviceResponse{
		Token:      device.Token,
		DeviceType: device.DeviceType,
		Active:     device.IsActive,
	})
}

// HandleMarkRead handles POST /api/notifications/read. An empty or missing
// ids list marks the whole inbox read.
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req MarkReadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	n, err := h.notifications.MarkRead(r.Context(), userID, req.IDs)
	if err != nil {
		writeError(w, "mark notifications read", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func toNotificationResponse(n *notification.Notification) NotificationResponse {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}

	return NotificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Category:  n.Category,
		Read:      n.ReadAt != nil,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		Data:      data,
	}
}
