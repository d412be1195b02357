// Package tags implements the canonical tag registry. It backs the
// in-process tag directory and the batch resolution endpoint: every tag name
// used by an application resolves to exactly one canonical tag here.
package tags

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/lendcore/application_layer/internal/app/domain/tag"
	"github.com/lendcore/application_layer/internal/app/storage"
	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

// Service resolves tag names into canonical tags.
type Service struct {
	store storage.TagStore
	log   *logger.Logger
}

// NewService creates the tag service over the given store.
func NewService(store storage.TagStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tags")
	}
	return &Service{store: store, log: log}
}

// normalize trims the names, drops blanks, and removes duplicates while
// preserving first-seen order.
func normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// CreateOrGetBatch resolves each distinct non-blank name to its canonical
// tag, creating the ones that do not exist yet. A concurrent create racing
// on the same name is tolerated: the loser re-reads the winner's row.
func (s *Service) CreateOrGetBatch(ctx context.Context, names []string) ([]tag.Tag, error) {
	wanted := normalize(names)
	if len(wanted) == 0 {
		return []tag.Tag{}, nil
	}

	existing, err := s.store.FindTagsByNames(ctx, wanted)
	if err != nil {
		return nil, errors.Internal("finding tags", err)
	}
	byName := make(map[string]tag.Tag, len(existing))
	for _, t := range existing {
		byName[t.Name] = t
	}

	out := make([]tag.Tag, 0, len(wanted))
	for _, name := range wanted {
		t, ok := byName[name]
		if !ok {
			t, err = s.createOrRead(ctx, name)
			if err != nil {
				return nil, err
			}
			s.log.WithField("tag", name).Debug("created tag")
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) createOrRead(ctx context.Context, name string) (tag.Tag, error) {
	created, err := s.store.CreateTag(ctx, tag.Tag{Name: name})
	if err == nil {
		return created, nil
	}
	if !stderrors.Is(err, storage.ErrConflict) {
		return tag.Tag{}, errors.Internal("creating tag", err)
	}
	// Lost a create race: the row exists now.
	won, err := s.store.GetTagByName(ctx, name)
	if err != nil {
		return tag.Tag{}, errors.Internal("reading tag after create conflict", err)
	}
	return won, nil
}
