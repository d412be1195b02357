// Package application holds the application aggregate: the application
// record itself, its owned documents, and its append-only status history.
package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/lendcore/application_layer/internal/app/domain/actor"
)

// Status is the application lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusInReview  Status = "IN_REVIEW"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Statuses lists the valid states in declaration order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusSubmitted, StatusInReview, StatusApproved, StatusRejected}
}

// StatusNames returns the valid status names joined for error messages.
func StatusNames() string {
	names := make([]string, 0, 5)
	for _, s := range Statuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range Statuses() {
		if candidate == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Application is the aggregate root. ApplicantID and ProductID are opaque
// foreign identifiers owned by the user and product directories.
type Application struct {
	ID          string     `json:"id"`
	ApplicantID string     `json:"applicant_id"`
	ProductID   string     `json:"product_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Documents   []Document `json:"documents"`
	Tags        []string   `json:"tags"`
}

// Document is owned exclusively by its application: created only as part of
// application creation and deleted only with it.
type Document struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	StoragePath string `json:"storage_path"`
}

// DocumentDescriptor is the caller-supplied description of a document to
// materialize at creation time.
type DocumentDescriptor struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	StoragePath string `json:"storage_path"`
}

// HistoryEntry records one status transition. OldStatus is nil only for the
// creation record. Entries are append-only and deleted only in bulk with the
// owning application.
type HistoryEntry struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	OldStatus     *Status    `json:"old_status"`
	NewStatus     Status     `json:"new_status"`
	ChangedByRole actor.Role `json:"changed_by_role"`
	ChangedAt     time.Time  `json:"changed_at"`
}
