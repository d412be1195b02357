package directory

import (
	"context"
	"fmt"

	"github.com/lendcore/application_layer/internal/app/domain/tag"
	"github.com/lendcore/application_layer/pkg/logger"
)

// The offline implementations are the fail-closed degraded mode: when a
// directory is not configured or deliberately disabled, existence checks
// report absence and role lookups fail, so authorization denies rather than
// granting default rights.

// OfflineUserDirectory denies all user lookups.
type OfflineUserDirectory struct {
	log *logger.Logger
}

// NewOfflineUserDirectory creates the degraded user directory.
func NewOfflineUserDirectory(log *logger.Logger) *OfflineUserDirectory {
	if log == nil {
		log = logger.NewDefault("user-directory-offline")
	}
	return &OfflineUserDirectory{log: log}
}

func (d *OfflineUserDirectory) Exists(_ context.Context, userID string) (bool, error) {
	d.log.WithField("user_id", userID).Warn("user directory offline, reporting user absent")
	return false, nil
}

func (d *OfflineUserDirectory) Role(_ context.Context, userID string) (string, error) {
	d.log.WithField("user_id", userID).Warn("user directory offline, refusing role resolution")
	return "", fmt.Errorf("user directory unavailable")
}

// OfflineProductDirectory denies all product lookups.
type OfflineProductDirectory struct {
	log *logger.Logger
}

// NewOfflineProductDirectory creates the degraded product directory.
func NewOfflineProductDirectory(log *logger.Logger) *OfflineProductDirectory {
	if log == nil {
		log = logger.NewDefault("product-directory-offline")
	}
	return &OfflineProductDirectory{log: log}
}

func (d *OfflineProductDirectory) Exists(_ context.Context, productID string) (bool, error) {
	d.log.WithField("product_id", productID).Warn("product directory offline, reporting product absent")
	return false, nil
}

// OfflineTagDirectory fails all batch resolutions.
type OfflineTagDirectory struct {
	log *logger.Logger
}

// NewOfflineTagDirectory creates the degraded tag directory.
func NewOfflineTagDirectory(log *logger.Logger) *OfflineTagDirectory {
	if log == nil {
		log = logger.NewDefault("tag-directory-offline")
	}
	return &OfflineTagDirectory{log: log}
}

func (d *OfflineTagDirectory) CreateOrGetBatch(_ context.Context, names []string) ([]tag.Tag, error) {
	d.log.WithField("count", len(names)).Warn("tag directory offline, refusing batch resolution")
	return nil, fmt.Errorf("tag directory unavailable")
}
