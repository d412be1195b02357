//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lendcore/application_layer/internal/app/domain/actor"
	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/storage"
	"github.com/lendcore/application_layer/internal/platform/migrations"
)

// Exercises the persistent store end to end: migrations, atomic creation,
// status transition with history, keyset pagination, and cascade deletion.
func TestIntegrationPostgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	created, err := store.CreateApplication(ctx, application.Application{
		ApplicantID: "it-applicant",
		ProductID:   "it-product",
		Status:      application.StatusSubmitted,
		CreatedAt:   now,
		Documents: []application.Document{
			{FileName: "income.pdf", ContentType: "application/pdf", StoragePath: "docs/income.pdf"},
		},
	}, application.HistoryEntry{
		NewStatus:     application.StatusSubmitted,
		ChangedByRole: actor.RoleClient,
		ChangedAt:     now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.DeleteByApplicant(ctx, "it-applicant")
	})

	got, err := store.GetApplication(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != application.StatusSubmitted || len(got.Documents) != 1 {
		t.Fatalf("round trip: %+v", got)
	}

	old := application.StatusSubmitted
	updated, err := store.UpdateStatus(ctx, created.ID, application.StatusApproved, now.Add(time.Second), application.HistoryEntry{
		OldStatus:     &old,
		NewStatus:     application.StatusApproved,
		ChangedByRole: actor.RoleAdmin,
		ChangedAt:     now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != application.StatusApproved || updated.UpdatedAt == nil {
		t.Fatalf("update result: %+v", updated)
	}

	history, err := store.ListHistory(ctx, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].NewStatus != application.StatusApproved {
		t.Fatalf("history order: %+v", history)
	}

	tagged, err := store.AttachTags(ctx, created.ID, []string{"it-urgent", "it-vip"})
	if err != nil {
		t.Fatalf("attach tags: %v", err)
	}
	if len(tagged.Tags) != 2 {
		t.Fatalf("tags: %v", tagged.Tags)
	}

	page, err := store.ListApplicationsKeyset(ctx, nil, 1)
	if err != nil {
		t.Fatalf("keyset: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 row, got %d", len(page))
	}
	next, err := store.ListApplicationsKeyset(ctx, &storage.Keyset{CreatedAt: page[0].CreatedAt, ID: page[0].ID}, 1)
	if err != nil {
		t.Fatalf("keyset page 2: %v", err)
	}
	for _, item := range next {
		if item.ID == page[0].ID {
			t.Fatal("keyset page overlap")
		}
	}

	if err := store.DeleteApplication(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetApplication(ctx, created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if entries, err := store.ListHistory(ctx, created.ID); err != nil || len(entries) != 0 {
		t.Fatalf("history must cascade: %v %v", entries, err)
	}
}
