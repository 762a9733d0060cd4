package notification

import (
	"time"

	"bankfeed/internal/shared/apperr"
)

// Categories group inbox entries by the sync event that produced them.
const (
	// CategoryEnrollment covers expired and disconnected bank connections.
	CategoryEnrollment = "enrollment"
	// CategoryVerification covers account verification outcomes.
	CategoryVerification = "verification"
	// CategorySync covers completed initial syncs.
	CategorySync = "sync"
)

// Device platforms accepted for push delivery.
const (
	DeviceIOS     = "ios"
	DeviceAndroid = "android"
	DeviceWeb     = "web"
)

// MaxPerPage bounds one inbox page.
const MaxPerPage = 100

// DefaultPerPage is used when the caller asks for none or too many.
const DefaultPerPage = 20

var (
	ErrInvalidCategory   = apperr.New(apperr.KindBadRequest, "notification", "unknown notification category")
	ErrInvalidDeviceType = apperr.New(apperr.KindBadRequest, "notification", "device type must be ios, android or web")
	ErrInvalidToken      = apperr.New(apperr.KindBadRequest, "notification", "device token is required")
	ErrInvalidUser       = apperr.New(apperr.KindBadRequest, "notification", "valid user ID is required")
)

// Device is a push target registered by a user.
type Device struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Notification is one inbox entry. ReadAt is nil until the user reads it.
type Notification struct {
	ID        string            `json:"id"`
	UserID    int64             `json:"-"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Data      map[string]string `json:"data"`
	ReadAt    *time.Time        `json:"readAt"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Page is one slice of a user's inbox.
type Page struct {
	Items   []*Notification
	Total   int
	Unread  int
	Page    int
	PerPage int
}

// Pages is the number of pages needed for Total entries.
func (p Page) Pages() int {
	if p.Total == 0 || p.PerPage == 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

type RegisterDeviceParams struct {
	UserID     int64
	Token      string
	DeviceType string
}

func (p RegisterDeviceParams) Validate() error {
	if p.UserID <= 0 {
		return ErrInvalidUser
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	switch p.DeviceType {
	case DeviceIOS, DeviceAndroid, DeviceWeb:
		return nil
	}
	return ErrInvalidDeviceType
}

type StoreParams struct {
	ID       string
	UserID   int64
	Title    string
	Message  string
	Category string
	Data     map[string]string
}

func (p StoreParams) Validate() error {
	if p.UserID <= 0 {
		return ErrInvalidUser
	}
	if p.Title == "" || p.Message == "" {
		return apperr.New(apperr.KindBadRequest, "notification", "title and message are required")
	}
	switch p.Category {
	case CategoryEnrollment, CategoryVerification, CategorySync:
		return nil
	}
	return ErrInvalidCategory
}

// NormalizePaging clamps page to at least 1 and perPage to 1..MaxPerPage,
// falling back to DefaultPerPage.
func NormalizePaging(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	return page, perPage
}
