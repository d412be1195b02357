// Package applications implements the application lifecycle engine: creation
// with documents and initial history, authorized status transitions, tag
// attachment, deletion, and paged reads.
package applications

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/metrics"
	"github.com/lendcore/application_layer/internal/app/storage"
	"github.com/lendcore/application_layer/internal/directory"
	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

// Service is the application lifecycle engine.
type Service struct {
	store    storage.ApplicationStore
	products directory.ProductDirectory
	tags     directory.TagDirectory
	authz    *authorizer
	log      *logger.Logger
	now      func() time.Time
}

// NewService wires the lifecycle engine over its store and directories.
func NewService(store storage.ApplicationStore, users directory.UserDirectory, products directory.ProductDirectory, tags directory.TagDirectory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	return &Service{
		store:    store,
		products: products,
		tags:     tags,
		authz:    &authorizer{users: users, log: log},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest describes a new application.
type CreateRequest struct {
	ApplicantID string                           `json:"applicant_id"`
	ProductID   string                           `json:"product_id"`
	Documents   []application.DocumentDescriptor `json:"documents"`
	Tags        []string                         `json:"tags"`
}

// Create validates the applicant and product against their directories,
// persists the application with its documents and the initial history entry
// atomically, then attempts best-effort tag population. Tag directory
// failure during creation is logged and skipped, never fatal.
func (s *Service) Create(ctx context.Context, req CreateRequest) (application.Application, error) {
	if req.ApplicantID == "" {
		return application.Application{}, errors.BadRequest("applicant_id is required")
	}
	if req.ProductID == "" {
		return application.Application{}, errors.BadRequest("product_id is required")
	}

	applicant, err := s.authz.resolveActor(ctx, req.ApplicantID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return application.Application{}, errors.NotFound("applicant not found")
		}
		return application.Application{}, err
	}

	productExists, err := s.products.Exists(ctx, req.ProductID)
	if err != nil {
		s.log.WithError(err).WithField("product_id", req.ProductID).Warn("product directory lookup failed, denying")
		return application.Application{}, errors.NotFound("product not found")
	}
	if !productExists {
		return application.Application{}, errors.NotFound("product not found")
	}

	now := s.now()
	app := application.Application{
		ID:          uuid.NewString(),
		ApplicantID: req.ApplicantID,
		ProductID:   req.ProductID,
		Status:      application.StatusSubmitted,
		CreatedAt:   now,
		Documents:   materializeDocuments(req.Documents),
		Tags:        []string{},
	}
	initial := application.HistoryEntry{
		NewStatus:     application.StatusSubmitted,
		ChangedByRole: applicant.Role,
		ChangedAt:     now,
	}

	created, err := s.store.CreateApplication(ctx, app, initial)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	s.log.WithFields(map[string]interface{}{
		"application_id": created.ID,
		"applicant_id":   created.ApplicantID,
		"product_id":     created.ProductID,
	}).Info("application created")
	metrics.RecordApplicationCreated()

	if len(req.Tags) > 0 {
		if tagged, tagErr := s.populateTags(ctx, created.ID, req.Tags); tagErr != nil {
			s.log.WithError(tagErr).WithField("application_id", created.ID).Warn("tag population skipped")
		} else {
			created = tagged
		}
	}
	return created, nil
}

// populateTags resolves the names through the tag directory and unions the
// canonical names into the application's tag set.
func (s *Service) populateTags(ctx context.Context, id string, names []string) (application.Application, error) {
	resolved, err := s.tags.CreateOrGetBatch(ctx, names)
	if err != nil {
		return application.Application{}, fmt.Errorf("resolving tags: %w", err)
	}
	canonical := make([]string, 0, len(resolved))
	for _, t := range resolved {
		canonical = append(canonical, t.Name)
	}
	if len(canonical) == 0 {
		return s.store.GetApplication(ctx, id)
	}
	app, err := s.store.AttachTags(ctx, id, canonical)
	if err != nil {
		return application.Application{}, fmt.Errorf("attaching tags: %w", err)
	}
	return app, nil
}

// Get returns the application after the view rule passes.
func (s *Service) Get(ctx context.Context, id, actorID string) (application.Application, error) {
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return application.Application{}, err
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	if err := s.authz.authorizeView(app, act); err != nil {
		return application.Application{}, err
	}
	return app, nil
}

// List returns one offset page ordered newest-first, plus the total count.
func (s *Service) List(ctx context.Context, page, size int) ([]application.Application, int, error) {
	if page < 0 {
		return nil, 0, errors.BadRequest("page must not be negative")
	}
	if size <= 0 {
		return nil, 0, errors.BadRequest("size must be positive")
	}
	if size > MaxPageSize {
		return nil, 0, errors.BadRequest(fmt.Sprintf("size must not exceed %d", MaxPageSize))
	}
	apps, total, err := s.store.ListApplications(ctx, page*size, size)
	if err != nil {
		return nil, 0, errors.Internal("listing applications", err)
	}
	return apps, total, nil
}

// CursorPage is one page of a cursor-paginated stream. NextCursor is empty
// at end of stream.
type CursorPage struct {
	Items      []application.Application `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// ListByCursor returns the page strictly after the cursor in
// (created_at DESC, id DESC) order.
func (s *Service) ListByCursor(ctx context.Context, cursor string, limit int) (CursorPage, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return CursorPage{}, err
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return CursorPage{}, err
	}
	items, err := s.store.ListApplicationsKeyset(ctx, after, limit)
	if err != nil {
		return CursorPage{}, errors.Internal("listing applications", err)
	}
	page := CursorPage{Items: items}
	if len(items) > 0 {
		last := items[len(items)-1]
		page.NextCursor = EncodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// ChangeStatus transitions the application after the status-change rule
// passes. The status name parses case-insensitively; an unknown name is a
// conflict naming the valid values. A transition to the current status is a
// no-op and writes no history.
func (s *Service) ChangeStatus(ctx context.Context, id, statusName, actorID string) (application.Application, error) {
	if statusName == "" {
		return application.Application{}, errors.BadRequest("status is required")
	}
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return application.Application{}, err
	}
	if !act.Role.Elevated() {
		return application.Application{}, errors.Forbidden("status changes require an elevated role")
	}

	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	if err := s.authz.authorizeStatusChange(app, act); err != nil {
		return application.Application{}, err
	}

	next, parseErr := application.ParseStatus(statusName)
	if parseErr != nil {
		return application.Application{}, errors.Conflict(
			fmt.Sprintf("invalid status %q, valid values: %s", statusName, application.StatusNames()))
	}
	if next == app.Status {
		return app, nil
	}

	now := s.now()
	previous := app.Status
	entry := application.HistoryEntry{
		OldStatus:     &previous,
		NewStatus:     next,
		ChangedByRole: act.Role,
		ChangedAt:     now,
	}
	updated, err := s.store.UpdateStatus(ctx, id, next, now, entry)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	s.log.WithFields(map[string]interface{}{
		"application_id": id,
		"old_status":     previous,
		"new_status":     next,
		"changed_by":     act.Role,
	}).Info("status changed")
	metrics.RecordStatusTransition(string(previous), string(next))
	return updated, nil
}

// AttachTags resolves the names through the tag directory and unions them
// into the application's tag set. Unlike creation, directory failure here is
// a conflict, not best-effort.
func (s *Service) AttachTags(ctx context.Context, id string, names []string, actorID string) (application.Application, error) {
	if len(names) == 0 {
		return application.Application{}, errors.BadRequest("tags are required")
	}
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return application.Application{}, err
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	if err := s.authz.authorizeView(app, act); err != nil {
		return application.Application{}, err
	}

	resolved, err := s.tags.CreateOrGetBatch(ctx, names)
	if err != nil {
		s.log.WithError(err).WithField("application_id", id).Warn("tag directory failure during attach")
		return application.Application{}, errors.Conflict("failed to attach tags")
	}
	canonical := make([]string, 0, len(resolved))
	for _, t := range resolved {
		canonical = append(canonical, t.Name)
	}
	if len(canonical) == 0 {
		return app, nil
	}
	updated, err := s.store.AttachTags(ctx, id, canonical)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	return updated, nil
}

// RemoveTags set-differences the named tags out of the application.
func (s *Service) RemoveTags(ctx context.Context, id string, names []string, actorID string) (application.Application, error) {
	if len(names) == 0 {
		return application.Application{}, errors.BadRequest("tags are required")
	}
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return application.Application{}, err
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	if err := s.authz.authorizeView(app, act); err != nil {
		return application.Application{}, err
	}
	updated, err := s.store.RemoveTags(ctx, id, names)
	if err != nil {
		return application.Application{}, classifyStore(err, "application not found")
	}
	return updated, nil
}

// Delete removes the application with its documents, history, and tag links
// after the delete rule passes.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}
	if err := s.authz.authorizeDelete(act); err != nil {
		return err
	}
	if _, err := s.store.GetApplication(ctx, id); err != nil {
		return classifyStore(err, "application not found")
	}
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return classifyStore(err, "application not found")
	}
	s.log.WithField("application_id", id).Info("application deleted")
	metrics.RecordApplicationsDeleted("single", 1)
	return nil
}

// ListHistory returns the application's history, newest change first, after
// the view rule passes.
func (s *Service) ListHistory(ctx context.Context, id, actorID string) ([]application.HistoryEntry, error) {
	act, err := s.authz.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return nil, classifyStore(err, "application not found")
	}
	if err := s.authz.authorizeView(app, act); err != nil {
		return nil, err
	}
	entries, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, classifyStore(err, "application not found")
	}
	return entries, nil
}

// DeleteByApplicant removes every application of the given applicant.
// Trusted internal operation: no actor check.
func (s *Service) DeleteByApplicant(ctx context.Context, applicantID string) (int, error) {
	if applicantID == "" {
		return 0, errors.BadRequest("applicant_id is required")
	}
	count, err := s.store.DeleteByApplicant(ctx, applicantID)
	if err != nil {
		return 0, classifyStore(err, "application not found")
	}
	s.log.WithFields(map[string]interface{}{"applicant_id": applicantID, "count": count}).Info("applications deleted by applicant")
	metrics.RecordApplicationsDeleted("by_applicant", count)
	return count, nil
}

// DeleteByProduct removes every application against the given product.
// Trusted internal operation: no actor check.
func (s *Service) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	if productID == "" {
		return 0, errors.BadRequest("product_id is required")
	}
	count, err := s.store.DeleteByProduct(ctx, productID)
	if err != nil {
		return 0, classifyStore(err, "application not found")
	}
	s.log.WithFields(map[string]interface{}{"product_id": productID, "count": count}).Info("applications deleted by product")
	metrics.RecordApplicationsDeleted("by_product", count)
	return count, nil
}

func materializeDocuments(descriptors []application.DocumentDescriptor) []application.Document {
	docs := make([]application.Document, 0, len(descriptors))
	for _, d := range descriptors {
		docs = append(docs, application.Document{
			ID:          uuid.NewString(),
			FileName:    d.FileName,
			ContentType: d.ContentType,
			StoragePath: d.StoragePath,
		})
	}
	return docs
}

// classifyStore translates storage sentinels into the service taxonomy so
// raw persistence errors never cross the boundary.
func classifyStore(err error, notFoundMessage string) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFound(notFoundMessage)
	case stderrors.Is(err, storage.ErrConflict):
		return errors.Conflict("persistence conflict")
	default:
		return errors.Internal("storage failure", err)
	}
}
