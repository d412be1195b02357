package tags

import (
	"context"
	"testing"

	"github.com/lendcore/application_layer/internal/app/storage/memory"
)

func TestCreateOrGetBatchNormalizes(t *testing.T) {
	svc := NewService(memory.New(), nil)

	got, err := svc.CreateOrGetBatch(context.Background(), []string{" urgent ", "", "vip", "urgent", "   "})
	if err != nil {
		t.Fatalf("CreateOrGetBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(got))
	}
	if got[0].Name != "urgent" || got[1].Name != "vip" {
		t.Fatalf("unexpected names: %q, %q", got[0].Name, got[1].Name)
	}
	for _, tg := range got {
		if tg.ID == "" {
			t.Fatalf("tag %q missing id", tg.Name)
		}
	}
}

func TestCreateOrGetBatchReusesExisting(t *testing.T) {
	svc := NewService(memory.New(), nil)
	ctx := context.Background()

	first, err := svc.CreateOrGetBatch(ctx, []string{"urgent"})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	second, err := svc.CreateOrGetBatch(ctx, []string{"urgent", "vip"})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("expected stable id %q, got %q", first[0].ID, second[0].ID)
	}
	if second[1].Name != "vip" {
		t.Fatalf("unexpected second tag %q", second[1].Name)
	}
}

func TestCreateOrGetBatchEmptyInput(t *testing.T) {
	svc := NewService(memory.New(), nil)

	got, err := svc.CreateOrGetBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateOrGetBatch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
