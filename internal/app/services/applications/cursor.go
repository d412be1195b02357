package applications

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/lendcore/application_layer/internal/app/storage"
	"github.com/lendcore/application_layer/internal/errors"
)

// MaxPageSize caps every page, offset or cursor, regardless of the
// requested limit.
const MaxPageSize = 50

// EncodeCursor serializes a resumption point as url-safe base64 over
// "<RFC 3339 timestamp>|<id>". Deterministic and reversible.
func EncodeCursor(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor back into a keyset. Blank input means the
// first page and yields nil; any malformed cursor is a bad request.
func DecodeCursor(cursor string) (*storage.Keyset, error) {
	if strings.TrimSpace(cursor) == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errors.BadRequest("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.BadRequest("invalid cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, errors.BadRequest("invalid cursor")
	}
	return &storage.Keyset{CreatedAt: ts, ID: parts[1]}, nil
}

// clampLimit validates and caps a page limit.
func clampLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, errors.BadRequest("limit must be positive")
	}
	if limit > MaxPageSize {
		return MaxPageSize, nil
	}
	return limit, nil
}
