// Package domain defines shared domain constants and types.
package domain

import (
	"strings"
	"time"
)

// Status is the review state of a subscription application record.
type Status string

const (
	// StatusPending marks an application awaiting admin review.
	StatusPending Status = "pending"
	// StatusApproved marks a paid, admin-confirmed subscription.
	StatusApproved Status = "approved"
	// StatusRejected marks an application declined by the admin.
	StatusRejected Status = "rejected"
)

// NormalizeStatus lowercases and trims a raw status value from the record
// store. Anything outside the known set resolves to StatusPending so that an
// unrecognized value never implies access.
func NormalizeStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	default:
		return StatusPending
	}
}

// Record is one subscription application row in the external record store.
// A user may have several historical records; the most recently created one
// is the current one for display purposes.
type Record struct {
	UserID    string
	Status    Status
	Discord   string
	Email     string
	ExpiresAt string // raw text, usually YYYY-MM-DD; parsed lazily
	CreatedAt time.Time
}

// NotSet is rendered for contact fields that are blank or withheld.
const NotSet = "not set"

// DisplayState is the render-ready summary of a user's subscription standing.
type DisplayState struct {
	Discord    string
	Email      string
	StatusLine string
}

// EmptyDisplayState returns the state shown to users with no records.
func EmptyDisplayState() DisplayState {
	return DisplayState{
		Discord:    NotSet,
		Email:      NotSet,
		StatusLine: "no active subscription",
	}
}
