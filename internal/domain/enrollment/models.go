package enrollment

import (
	"errors"
	"time"
)

// Enrollment statuses
const (
	StatusActive       = "active"
	StatusExpired      = "expired"
	StatusDisconnected = "disconnected"
)

var validStatuses = map[string]struct{}{
	StatusActive:       {},
	StatusExpired:      {},
	StatusDisconnected: {},
}

// Domain errors
var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidStatus      = errors.New("invalid enrollment status")
	ErrNotActive          = errors.New("enrollment is not active")
)

// Enrollment is one user's grant of access to one institution connection.
// ID is the identifier issued by the aggregation API.
type Enrollment struct {
	ID              string     `json:"id"`
	UserID          int64      `json:"userId"`
	InstitutionID   string     `json:"institutionId"`
	InstitutionName string     `json:"institutionName"`
	AccessToken     string     `json:"-"` // encrypted at rest
	Status          string     `json:"status"`
	StatusReason    string     `json:"statusReason,omitempty"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsActive reports whether the enrollment may be synced.
func (e *Enrollment) IsActive() bool {
	return e.Status == StatusActive
}

// LinkParams contains the result of a completed linking flow.
// AccessToken is plaintext here and encrypted by the Service.
type LinkParams struct {
	ID              string `json:"enrollment_id"`
	UserID          int64  `json:"-"`
	AccessToken     string `json:"access_token"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
}

// Validate validates the link parameters
func (p LinkParams) Validate() error {
	if p.ID == "" {
		return errors.New("enrollment ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// UpsertParams is what the repository persists.
type UpsertParams struct {
	ID              string
	UserID          int64
	InstitutionID   string
	InstitutionName string
	AccessToken     string // ciphertext
	Status          string
}

// IsValidStatus checks if the provided status is known.
func IsValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}
