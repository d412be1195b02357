package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lendcore/application_layer/internal/app/domain/tag"
	"github.com/lendcore/application_layer/internal/app/metrics"
	"github.com/lendcore/application_layer/pkg/logger"
)

// DefaultTimeout bounds every directory call. Directory unavailability is a
// policy decision for the caller, not something to wait out.
const DefaultTimeout = 3 * time.Second

// HTTPUserDirectory talks to the user service over its REST API.
type HTTPUserDirectory struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

// NewHTTPUserDirectory creates a live user directory client.
func NewHTTPUserDirectory(client *http.Client, baseURL string, log *logger.Logger) (*HTTPUserDirectory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("user directory base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = logger.NewDefault("user-directory")
	}
	return &HTTPUserDirectory{client: client, baseURL: baseURL, log: log}, nil
}

func (d *HTTPUserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := getJSON(ctx, d.client, fmt.Sprintf("%s/api/v1/users/%s/exists", d.baseURL, userID), &exists)
	if err != nil {
		metrics.RecordDirectoryFailure("user")
		return false, err
	}
	return exists, nil
}

func (d *HTTPUserDirectory) Role(ctx context.Context, userID string) (string, error) {
	var role string
	err := getJSON(ctx, d.client, fmt.Sprintf("%s/api/v1/users/%s/role", d.baseURL, userID), &role)
	if err != nil {
		metrics.RecordDirectoryFailure("user")
		return "", err
	}
	return role, nil
}

// HTTPProductDirectory talks to the product service over its REST API.
type HTTPProductDirectory struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

// NewHTTPProductDirectory creates a live product directory client.
func NewHTTPProductDirectory(client *http.Client, baseURL string, log *logger.Logger) (*HTTPProductDirectory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("product directory base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = logger.NewDefault("product-directory")
	}
	return &HTTPProductDirectory{client: client, baseURL: baseURL, log: log}, nil
}

func (d *HTTPProductDirectory) Exists(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := getJSON(ctx, d.client, fmt.Sprintf("%s/api/v1/products/%s/exists", d.baseURL, productID), &exists)
	if err != nil {
		metrics.RecordDirectoryFailure("product")
		return false, err
	}
	return exists, nil
}

// HTTPTagDirectory talks to the tag service over its REST API.
type HTTPTagDirectory struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

// NewHTTPTagDirectory creates a live tag directory client.
func NewHTTPTagDirectory(client *http.Client, baseURL string, log *logger.Logger) (*HTTPTagDirectory, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("tag directory base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = logger.NewDefault("tag-directory")
	}
	return &HTTPTagDirectory{client: client, baseURL: baseURL, log: log}, nil
}

func (d *HTTPTagDirectory) CreateOrGetBatch(ctx context.Context, names []string) ([]tag.Tag, error) {
	payload, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/v1/tags/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.RecordDirectoryFailure("tag")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		metrics.RecordDirectoryFailure("tag")
		return nil, fmt.Errorf("tag directory returned status %d", resp.StatusCode)
	}

	var tags []tag.Tag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tag directory response: %w", err)
	}
	return tags, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
