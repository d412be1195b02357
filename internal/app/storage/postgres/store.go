// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lendcore/application_layer/internal/app/domain/actor"
	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/domain/tag"
	"github.com/lendcore/application_layer/internal/app/storage"
)

// Store implements the storage interfaces over a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.TagStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type applicationRow struct {
	ID          string       `db:"id"`
	ApplicantID string       `db:"applicant_id"`
	ProductID   string       `db:"product_id"`
	Status      string       `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

type documentRow struct {
	ID            string `db:"id"`
	ApplicationID string `db:"application_id"`
	FileName      string `db:"file_name"`
	ContentType   string `db:"content_type"`
	StoragePath   string `db:"storage_path"`
}

type historyRow struct {
	ID            string         `db:"id"`
	ApplicationID string         `db:"application_id"`
	OldStatus     sql.NullString `db:"old_status"`
	NewStatus     string         `db:"new_status"`
	ChangedByRole string         `db:"changed_by_role"`
	ChangedAt     time.Time      `db:"changed_at"`
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(ctx context.Context, app application.Application, initial application.HistoryEntry) (application.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
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

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO applications (id, applicant_id, product_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, app.ID, app.ApplicantID, app.ProductID, app.Status, app.CreatedAt); err != nil {
			return err
		}

		for _, doc := range app.Documents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO application_documents (id, application_id, file_name, content_type, storage_path)
				VALUES ($1, $2, $3, $4, $5)
			`, doc.ID, app.ID, doc.FileName, doc.ContentType, doc.StoragePath); err != nil {
				return err
			}
		}

		return insertHistory(ctx, tx, initial)
	})
	if err != nil {
		return application.Application{}, classify(err)
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, applicant_id, product_id, status, created_at, updated_at
		FROM applications
		WHERE id = $1
	`, id)
	if err != nil {
		return application.Application{}, classify(err)
	}

	apps, err := s.hydrate(ctx, []applicationRow{row})
	if err != nil {
		return application.Application{}, classify(err)
	}
	return apps[0], nil
}

func (s *Store) ListApplications(ctx context.Context, offset, limit int) ([]application.Application, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM applications`); err != nil {
		return nil, 0, classify(err)
	}

	var rows []applicationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, applicant_id, product_id, status, created_at, updated_at
		FROM applications
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, 0, classify(err)
	}

	apps, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, 0, classify(err)
	}
	return apps, total, nil
}

func (s *Store) ListApplicationsKeyset(ctx context.Context, after *storage.Keyset, limit int) ([]application.Application, error) {
	var (
		rows []applicationRow
		err  error
	)
	if after == nil {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, applicant_id, product_id, status, created_at, updated_at
			FROM applications
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, applicant_id, product_id, status, created_at, updated_at
			FROM applications
			WHERE (created_at, id) < ($1, CAST($2 AS uuid))
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, classify(err)
	}

	apps, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, classify(err)
	}
	return apps, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status application.Status, updatedAt time.Time, entry application.HistoryEntry) (application.Application, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.ApplicationID = id

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE applications
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, id, status, updatedAt)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return sql.ErrNoRows
		}
		return insertHistory(ctx, tx, entry)
	})
	if err != nil {
		return application.Application{}, classify(err)
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) AttachTags(ctx context.Context, id string, names []string) (application.Application, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockApplication(ctx, tx, id); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO application_tags (application_id, tag_name)
				VALUES ($1, $2)
				ON CONFLICT (application_id, tag_name) DO NOTHING
			`, id, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return application.Application{}, classify(err)
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) RemoveTags(ctx context.Context, id string, names []string) (application.Application, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockApplication(ctx, tx, id); err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		query, args, err := sqlx.In(`
			DELETE FROM application_tags
			WHERE application_id = ? AND tag_name IN (?)
		`, id, names)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(query), args...)
		return err
	})
	if err != nil {
		return application.Application{}, classify(err)
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	return classify(err)
}

func (s *Store) DeleteByApplicant(ctx context.Context, applicantID string) (int, error) {
	return s.deleteWhere(ctx, `applicant_id`, applicantID)
}

func (s *Store) DeleteByProduct(ctx context.Context, productID string) (int, error) {
	return s.deleteWhere(ctx, `product_id`, productID)
}

func (s *Store) deleteWhere(ctx context.Context, column, value string) (int, error) {
	var count int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE `+column+` = $1`, value)
		if err != nil {
			return err
		}
		count, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return int(count), nil
}

func (s *Store) ListHistory(ctx context.Context, applicationID string) ([]application.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, application_id, old_status, new_status, changed_by_role, changed_at
		FROM application_history
		WHERE application_id = $1
		ORDER BY changed_at DESC, id DESC
	`, applicationID)
	if err != nil {
		return nil, classify(err)
	}

	entries := make([]application.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := application.HistoryEntry{
			ID:            row.ID,
			ApplicationID: row.ApplicationID,
			NewStatus:     application.Status(row.NewStatus),
			ChangedByRole: actor.Role(row.ChangedByRole),
			ChangedAt:     row.ChangedAt.UTC(),
		}
		if row.OldStatus.Valid {
			old := application.Status(row.OldStatus.String)
			entry.OldStatus = &old
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TagStore implementation ------------------------------------------------------

func (s *Store) CreateTag(ctx context.Context, t tag.Tag) (tag.Tag, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
	`, t.ID, t.Name)
	if err != nil {
		return tag.Tag{}, classify(err)
	}
	return t, nil
}

func (s *Store) GetTagByName(ctx context.Context, name string) (tag.Tag, error) {
	var t tag.Tag
	err := s.db.GetContext(ctx, &t, `SELECT id, name FROM tags WHERE name = $1`, name)
	if err != nil {
		return tag.Tag{}, classify(err)
	}
	return t, nil
}

func (s *Store) FindTagsByNames(ctx context.Context, names []string) ([]tag.Tag, error) {
	if len(names) == 0 {
		return []tag.Tag{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, name FROM tags WHERE name IN (?)`, names)
	if err != nil {
		return nil, err
	}
	var tags []tag.Tag
	if err := s.db.SelectContext(ctx, &tags, s.db.Rebind(query), args...); err != nil {
		return nil, classify(err)
	}
	return tags, nil
}

// Helpers ----------------------------------------------------------------------

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry application.HistoryEntry) error {
	var old sql.NullString
	if entry.OldStatus != nil {
		old = sql.NullString{String: string(*entry.OldStatus), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO application_history (id, application_id, old_status, new_status, changed_by_role, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.ApplicationID, old, entry.NewStatus, entry.ChangedByRole, entry.ChangedAt)
	return err
}

func lockApplication(ctx context.Context, tx *sqlx.Tx, id string) error {
	var found string
	return tx.GetContext(ctx, &found, `SELECT id FROM applications WHERE id = $1 FOR UPDATE`, id)
}

// hydrate attaches documents and tags to the given rows with one batch query
// per relation.
func (s *Store) hydrate(ctx context.Context, rows []applicationRow) ([]application.Application, error) {
	apps := make([]application.Application, 0, len(rows))
	index := make(map[string]int, len(rows))
	ids := make([]string, 0, len(rows))

	for _, row := range rows {
		app := application.Application{
			ID:          row.ID,
			ApplicantID: row.ApplicantID,
			ProductID:   row.ProductID,
			Status:      application.Status(row.Status),
			CreatedAt:   row.CreatedAt.UTC(),
			Documents:   []application.Document{},
			Tags:        []string{},
		}
		if row.UpdatedAt.Valid {
			at := row.UpdatedAt.Time.UTC()
			app.UpdatedAt = &at
		}
		index[app.ID] = len(apps)
		ids = append(ids, app.ID)
		apps = append(apps, app)
	}
	if len(apps) == 0 {
		return apps, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, application_id, file_name, content_type, storage_path
		FROM application_documents
		WHERE application_id IN (?)
		ORDER BY file_name, id
	`, ids)
	if err != nil {
		return nil, err
	}
	var docs []documentRow
	if err := s.db.SelectContext(ctx, &docs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		i := index[doc.ApplicationID]
		apps[i].Documents = append(apps[i].Documents, application.Document{
			ID:          doc.ID,
			FileName:    doc.FileName,
			ContentType: doc.ContentType,
			StoragePath: doc.StoragePath,
		})
	}

	query, args, err = sqlx.In(`
		SELECT application_id, tag_name
		FROM application_tags
		WHERE application_id IN (?)
		ORDER BY tag_name
	`, ids)
	if err != nil {
		return nil, err
	}
	var links []struct {
		ApplicationID string `db:"application_id"`
		TagName       string `db:"tag_name"`
	}
	if err := s.db.SelectContext(ctx, &links, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, link := range links {
		i := index[link.ApplicationID]
		apps[i].Tags = append(apps[i].Tags, link.TagName)
	}

	return apps, nil
}

// classify translates driver errors into the storage sentinels so services
// never see raw database errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23": // integrity constraint violation
			return storage.ErrConflict
		case "40": // transaction rollback (serialization, deadlock)
			return storage.ErrConflict
		}
	}
	return err
}
