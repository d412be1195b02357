package applications

import (
	"testing"
	"time"

	"github.com/lendcore/application_layer/internal/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	cursor := EncodeCursor(at, "3f2c9a10-7a1b-4f6e-9dfb-1d2e3f4a5b6c")

	got, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if got == nil {
		t.Fatal("expected keyset, got nil")
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("timestamp mismatch: want %v, got %v", at, got.CreatedAt)
	}
	if got.ID != "3f2c9a10-7a1b-4f6e-9dfb-1d2e3f4a5b6c" {
		t.Fatalf("id mismatch: %q", got.ID)
	}
}

func TestCursorBlankMeansFirstPage(t *testing.T) {
	for _, cursor := range []string{"", "   "} {
		got, err := DecodeCursor(cursor)
		if err != nil {
			t.Fatalf("DecodeCursor(%q): %v", cursor, err)
		}
		if got != nil {
			t.Fatalf("DecodeCursor(%q): expected nil keyset", cursor)
		}
	}
}

func TestCursorMalformed(t *testing.T) {
	cases := []string{
		"not-base64!!",
		"bm8tc2VwYXJhdG9y",         // "no-separator"
		"YmFkLXRpbWV8c29tZS1pZA==", // "bad-time|some-id"
		"MjAyNS0wMy0xNFQwOToyNjo1M1p8", // valid time, empty id
	}
	for _, cursor := range cases {
		_, err := DecodeCursor(cursor)
		if !errors.IsCode(err, errors.CodeBadRequest) {
			t.Fatalf("DecodeCursor(%q): expected bad request, got %v", cursor, err)
		}
	}
}

func TestClampLimit(t *testing.T) {
	if _, err := clampLimit(0); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("limit 0: expected bad request, got %v", err)
	}
	if _, err := clampLimit(-3); !errors.IsCode(err, errors.CodeBadRequest) {
		t.Fatalf("limit -3: expected bad request, got %v", err)
	}
	if got, _ := clampLimit(500); got != MaxPageSize {
		t.Fatalf("limit 500: expected clamp to %d, got %d", MaxPageSize, got)
	}
	if got, _ := clampLimit(7); got != 7 {
		t.Fatalf("limit 7: expected 7, got %d", got)
	}
}
