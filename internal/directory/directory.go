// Package directory defines the capability contracts for the external
// user, product, and tag directories, with live HTTP clients and degraded
// offline implementations selected at startup.
package directory

import (
	"context"

	"github.com/lendcore/application_layer/internal/app/domain/tag"
)

// UserDirectory answers existence and role questions about users.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Role(ctx context.Context, userID string) (string, error)
}

// ProductDirectory answers existence questions about products.
type ProductDirectory interface {
	Exists(ctx context.Context, productID string) (bool, error)
}

// TagDirectory resolves tag names into canonical tag identities.
type TagDirectory interface {
	CreateOrGetBatch(ctx context.Context, names []string) ([]tag.Tag, error)
}
