// Package httpapi exposes the application lifecycle REST API.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	app "github.com/lendcore/application_layer/internal/app"
	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/metrics"
	applicationsvc "github.com/lendcore/application_layer/internal/app/services/applications"
	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/internal/middleware"
	"github.com/lendcore/application_layer/pkg/logger"
)

const (
	defaultPageSize = 20
	defaultLimit    = 20
)

// Options tune the handler.
type Options struct {
	// AuditSize bounds the in-memory audit ring; 0 uses the default.
	AuditSize int
	// AuditFile, when set, receives audit entries as JSONL.
	AuditFile string
	// InternalToken guards the internal bulk endpoints.
	InternalToken string
}

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

// NewHandler returns a router exposing the application REST API.
func NewHandler(application *app.Application, log *logger.Logger, opts Options) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, err
	}
	h := &handler{
		app:   application,
		log:   log,
		audit: newAuditLog(opts.AuditSize, sink),
	}

	r := chi.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.Route("/api/v1/applications", func(r chi.Router) {
		r.Post("/", h.createApplication)
		r.Get("/", h.listApplications)
		r.Get("/stream", h.streamApplications)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getApplication)
			r.Delete("/", h.deleteApplication)
			r.Post("/status", h.changeStatus)
			r.Post("/tags", h.attachTags)
			r.Delete("/tags", h.removeTags)
			r.Get("/history", h.listHistory)
		})
	})

	internal := middleware.NewInternalAuth(opts.InternalToken, log)
	r.Route("/internal", func(r chi.Router) {
		r.Use(internal.Handler)
		r.Delete("/applications/by-applicant/{userID}", h.deleteByApplicant)
		r.Delete("/applications/by-product/{productID}", h.deleteByProduct)
		r.Get("/audit", h.listAudit)
	})

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r, nil
}

func (h *handler) createApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ApplicantID string                           `json:"applicant_id"`
		ProductID   string                           `json:"product_id"`
		Documents   []application.DocumentDescriptor `json:"documents"`
		Tags        []string                         `json:"tags"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("invalid request body"))
		return
	}

	created, err := h.app.Applications.Create(r.Context(), applicationsvc.CreateRequest{
		ApplicantID: payload.ApplicantID,
		ProductID:   payload.ProductID,
		Documents:   payload.Documents,
		Tags:        payload.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusCreated, created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	appl, err := h.app.Applications.Get(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appl)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items, total, err := h.app.Applications.List(r.Context(), page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) streamApplications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pageResult, err := h.app.Applications.ListByCursor(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResult)
}

func (h *handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("invalid request body"))
		return
	}

	updated, err := h.app.Applications.ChangeStatus(r.Context(), chi.URLParam(r, "id"), payload.Status, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusOK, chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) attachTags(w http.ResponseWriter, r *http.Request) {
	names, err := decodeTagNames(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.app.Applications.AttachTags(r.Context(), chi.URLParam(r, "id"), names, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusOK, chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) removeTags(w http.ResponseWriter, r *http.Request) {
	names, err := decodeTagNames(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.app.Applications.RemoveTags(r.Context(), chi.URLParam(r, "id"), names, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusOK, chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Applications.Delete(r.Context(), chi.URLParam(r, "id"), actorID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusNoContent, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Applications.ListHistory(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) deleteByApplicant(w http.ResponseWriter, r *http.Request) {
	count, err := h.app.Applications.DeleteByApplicant(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusOK, "")
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *handler) deleteByProduct(w http.ResponseWriter, r *http.Request) {
	count, err := h.app.Applications.DeleteByProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.record(r, http.StatusOK, "")
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// record captures one mutating request in the audit ring. applicationID is
// blank for the bulk endpoints.
func (h *handler) record(r *http.Request, status int, applicationID string) {
	h.audit.add(auditEntry{
		Time:          time.Now().UTC(),
		Actor:         actorID(r),
		ApplicationID: applicationID,
		Path:          r.URL.Path,
		Method:        r.Method,
		Status:        status,
		RemoteAddr:    r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	if se.Code == errors.CodeInternal {
		h.log.WithError(err).WithFields(map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
		}).Error("request failed")
	}
	body := map[string]interface{}{"error": se.Message, "code": se.Code}
	if len(se.Details) > 0 {
		body["details"] = se.Details
	}
	writeJSON(w, se.HTTPStatus, body)
}

func actorID(r *http.Request) string {
	return middleware.ActorID(r.Context())
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.BadRequest(name + " must be an integer")
	}
	return v, nil
}

func decodeTagNames(body io.ReadCloser) ([]string, error) {
	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := decodeJSON(body, &payload); err != nil {
		return nil, errors.BadRequest("invalid request body")
	}
	if len(payload.Tags) == 0 {
		return nil, errors.BadRequest("tags are required")
	}
	return payload.Tags, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
