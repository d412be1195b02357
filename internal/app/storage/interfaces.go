// Package storage defines the persistence contracts for the application
// workflow. Implementations must keep the pairing invariant: a status
// mutation and its history append commit or fail together.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/domain/tag"
)

// ErrNotFound reports an absent record. Services reclassify it at the
// boundary; it never reaches a caller raw.
var ErrNotFound = errors.New("record not found")

// ErrConflict reports a persistence constraint violation (duplicate key,
// foreign key, concurrent modification).
var ErrConflict = errors.New("constraint violation")

// Keyset is the resumption point for cursor pagination: the (createdAt, id)
// pair of the last row already returned, under (created_at DESC, id DESC)
// ordering.
type Keyset struct {
	CreatedAt time.Time
	ID        string
}

// ApplicationStore persists applications, their documents, their tag links,
// and their history.
type ApplicationStore interface {
	// CreateApplication persists the application, its documents, and the
	// initial history entry as one atomic unit.
	CreateApplication(ctx context.Context, app application.Application, initial application.HistoryEntry) (application.Application, error)

	GetApplication(ctx context.Context, id string) (application.Application, error)

	// ListApplications returns one offset page ordered by created_at
	// descending, plus the total record count.
	ListApplications(ctx context.Context, offset, limit int) ([]application.Application, int, error)

	// ListApplicationsKeyset returns up to limit applications ordered by
	// (created_at DESC, id DESC), strictly below the given keyset. A nil
	// keyset means the first page.
	ListApplicationsKeyset(ctx context.Context, after *Keyset, limit int) ([]application.Application, error)

	// UpdateStatus sets the status and updatedAt and appends the history
	// entry as one atomic unit.
	UpdateStatus(ctx context.Context, id string, status application.Status, updatedAt time.Time, entry application.HistoryEntry) (application.Application, error)

	// AttachTags unions the tag names into the application's tag set.
	AttachTags(ctx context.Context, id string, names []string) (application.Application, error)

	// RemoveTags removes the named tags from the application's tag set.
	RemoveTags(ctx context.Context, id string, names []string) (application.Application, error)

	// DeleteApplication removes the application with its documents, history,
	// and tag links as one atomic unit.
	DeleteApplication(ctx context.Context, id string) error

	// DeleteByApplicant and DeleteByProduct cascade-delete every application
	// owned by the given foreign identifier, returning the count removed.
	DeleteByApplicant(ctx context.Context, applicantID string) (int, error)
	DeleteByProduct(ctx context.Context, productID string) (int, error)

	// ListHistory returns the application's history ordered by changed_at
	// descending.
	ListHistory(ctx context.Context, applicationID string) ([]application.HistoryEntry, error)
}

// TagStore persists canonical tags keyed by unique name.
type TagStore interface {
	// CreateTag inserts the tag, returning ErrConflict when the name is
	// already taken.
	CreateTag(ctx context.Context, t tag.Tag) (tag.Tag, error)

	GetTagByName(ctx context.Context, name string) (tag.Tag, error)

	// FindTagsByNames returns the subset of names that already exist.
	FindTagsByNames(ctx context.Context, names []string) ([]tag.Tag, error)
}
