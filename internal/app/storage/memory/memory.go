// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/domain/tag"
	"github.com/lendcore/application_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces.
type Store struct {
	mu           sync.RWMutex
	applications map[string]application.Application
	history      map[string][]application.HistoryEntry
	tagsByName   map[string]tag.Tag
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		applications: make(map[string]application.Application),
		history:      make(map[string][]application.HistoryEntry),
		tagsByName:   make(map[string]tag.Tag),
	}
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application, initial application.HistoryEntry) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == "" {
		app.ID = uuid.NewString()
	} else if _, exists := s.applications[app.ID]; exists {
		return application.Application{}, storage.ErrConflict
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	for i := range app.Documents {
		if app.Documents[i].ID == "" {
			app.Documents[i].ID = uuid.NewString()
		}
	}
	if app.Tags == nil {
		app.Tags = []string{}
	}

	if initial.ID == "" {
		initial.ID = uuid.NewString()
	}
	initial.ApplicationID = app.ID

	s.applications[app.ID] = cloneApplication(app)
	s.history[app.ID] = []application.HistoryEntry{initial}
	return cloneApplication(app), nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	return cloneApplication(app), nil
}

func (s *Store) ListApplications(_ context.Context, offset, limit int) ([]application.Application, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedDescLocked()
	total := len(all)
	if offset >= total {
		return []application.Application{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]application.Application, 0, end-offset)
	for _, app := range all[offset:end] {
		page = append(page, cloneApplication(app))
	}
	return page, total, nil
}

func (s *Store) ListApplicationsKeyset(_ context.Context, after *storage.Keyset, limit int) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.Application, 0, limit)
	for _, app := range s.sortedDescLocked() {
		if after != nil && !beforeKeyset(app, *after) {
			continue
		}
		result = append(result, cloneApplication(app))
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status application.Status, updatedAt time.Time, entry application.HistoryEntry) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}

	app.Status = status
	at := updatedAt
	app.UpdatedAt = &at

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.ApplicationID = id

	s.applications[id] = cloneApplication(app)
	s.history[id] = append(s.history[id], entry)
	return cloneApplication(app), nil
}

func (s *Store) AttachTags(_ context.Context, id string, names []string) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}

	have := make(map[string]bool, len(app.Tags))
	for _, name := range app.Tags {
		have[name] = true
	}
	for _, name := range names {
		if !have[name] {
			app.Tags = append(app.Tags, name)
			have[name] = true
		}
	}
	sort.Strings(app.Tags)

	s.applications[id] = cloneApplication(app)
	return cloneApplication(app), nil
}

func (s *Store) RemoveTags(_ context.Context, id string, names []string) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}

	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	kept := app.Tags[:0]
	for _, name := range app.Tags {
		if !drop[name] {
			kept = append(kept, name)
		}
	}
	app.Tags = kept

	s.applications[id] = cloneApplication(app)
	return cloneApplication(app), nil
}

func (s *Store) DeleteApplication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.applications, id)
	delete(s.history, id)
	return nil
}

func (s *Store) DeleteByApplicant(_ context.Context, applicantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, app := range s.applications {
		if app.ApplicantID == applicantID {
			delete(s.applications, id)
			delete(s.history, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteByProduct(_ context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, app := range s.applications {
		if app.ProductID == productID {
			delete(s.applications, id)
			delete(s.history, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) ListHistory(_ context.Context, applicationID string) ([]application.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.history[applicationID]
	if !ok {
		return []application.HistoryEntry{}, nil
	}

	// Newest first; for equal timestamps the later append wins the tie.
	result := make([]application.HistoryEntry, len(entries))
	for i, entry := range entries {
		result[len(entries)-1-i] = cloneHistory(entry)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ChangedAt.After(result[j].ChangedAt)
	})
	return result, nil
}

// TagStore implementation ------------------------------------------------------

func (s *Store) CreateTag(_ context.Context, t tag.Tag) (tag.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tagsByName[t.Name]; exists {
		return tag.Tag{}, storage.ErrConflict
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tagsByName[t.Name] = t
	return t, nil
}

func (s *Store) GetTagByName(_ context.Context, name string) (tag.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tagsByName[name]
	if !ok {
		return tag.Tag{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) FindTagsByNames(_ context.Context, names []string) ([]tag.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tag.Tag, 0, len(names))
	for _, name := range names {
		if t, ok := s.tagsByName[name]; ok {
			result = append(result, t)
		}
	}
	return result, nil
}

// Helpers ----------------------------------------------------------------------

func (s *Store) sortedDescLocked() []application.Application {
	all := make([]application.Application, 0, len(s.applications))
	for _, app := range s.applications {
		all = append(all, app)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return all
}

// beforeKeyset reports whether app sorts strictly below the keyset under
// (created_at DESC, id DESC), matching the Postgres row comparison
// (created_at, id) < (ts, id).
func beforeKeyset(app application.Application, k storage.Keyset) bool {
	if app.CreatedAt.Before(k.CreatedAt) {
		return true
	}
	return app.CreatedAt.Equal(k.CreatedAt) && app.ID < k.ID
}

func cloneApplication(app application.Application) application.Application {
	if app.Documents != nil {
		app.Documents = append([]application.Document(nil), app.Documents...)
	}
	if app.Tags != nil {
		app.Tags = append([]string(nil), app.Tags...)
	}
	if app.UpdatedAt != nil {
		at := *app.UpdatedAt
		app.UpdatedAt = &at
	}
	return app
}

func cloneHistory(entry application.HistoryEntry) application.HistoryEntry {
	if entry.OldStatus != nil {
		old := *entry.OldStatus
		entry.OldStatus = &old
	}
	return entry
}
