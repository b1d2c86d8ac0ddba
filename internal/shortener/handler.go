package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sundayezeilo/linkservice/internal/errx"
	"github.com/sundayezeilo/linkservice/internal/httpx"
)

// HTTPCreateLinkRequest is the JSON body of POST /links.
type HTTPCreateLinkRequest struct {
	TargetURL string     `json:"target_url" validate:"required,max=1024"`
	Code      string     `json:"code,omitempty" validate:"max=64,linkcode"`
	Active    *bool      `json:"active,omitempty"`
	Title     *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HTTPUpdateLinkRequest is the JSON body of PATCH /links/{id}. Omitted
// fields keep their current value.
type HTTPUpdateLinkRequest struct {
	TargetURL *string `json:"target_url,omitempty" validate:"omitnil,min=1,max=1024"`
	Active    *bool   `json:"active,omitempty"`
	Title     *string `json:"title,omitempty" validate:"omitempty,max=255"`
}

// HTTPCreateLinkResponse is returned with 201 Created.
type HTTPCreateLinkResponse struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ShortURL  string `json:"short_url"`
	TargetURL string `json:"target_url"`
}

// HTTPLinkResponse is the read model of a link. Notes are internal and never
// serialized.
type HTTPLinkResponse struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	ShortURL  string     `json:"short_url"`
	TargetURL string     `json:"target_url"`
	Title     *string    `json:"title,omitempty"`
	Active    bool       `json:"active"`
	IsCustom  bool       `json:"is_custom"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Handler adapts HTTP requests to Service calls.
type Handler struct {
	service  Service
	logger   *slog.Logger
	validate *validator.Validate
	baseURL  string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service   Service
	Logger    *slog.Logger
	Validator *validator.Validate
	BaseURL   string // e.g. "https://sho.rt"
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.Validator
	if validate == nil {
		validate = httpx.NewValidator()
	}

	return &Handler{
		service:  cfg.Service,
		logger:   logger,
		validate: validate,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"owner_id", httpx.GetOwnerID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func (h *Handler) toLinkResponse(l Link) HTTPLinkResponse {
	return HTTPLinkResponse{
		ID:        l.ID.String(),
		Code:      l.Code,
		ShortURL:  fmt.Sprintf("%s/%s", h.baseURL, l.Code),
		TargetURL: l.TargetURL,
		Title:     l.Title,
		Active:    l.Active,
		IsCustom:  l.IsCustom,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}

// decodeAndValidate writes a 400 and returns false when the body is unusable.
func decodeAndValidate[T any](h *Handler, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	req, err := httpx.DecodeJSON[T](r)
	if err != nil {
		logger.WarnContext(r.Context(), "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return req, false
	}

	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(r.Context(), "request validation failed", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed",
			"request validation failed", httpx.ValidationErrors(err))
		return req, false
	}
	return req, true
}

// linkIDFromPath parses the {id} path value. A malformed ID is reported as
// not found, like any other ID the caller does not own.
func (h *Handler) linkIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", ErrLinkNotFound.Error(), nil)
		return uuid.Nil, false
	}
	return id, true
}

// CreateLink handles POST /links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	body, ok := decodeAndValidate[HTTPCreateLinkRequest](h, w, r, logger)
	if !ok {
		return
	}

	resp, err := h.service.CreateLink(ctx, CreateLinkRequest{
		OwnerID:   httpx.GetOwnerID(ctx),
		TargetURL: body.TargetURL,
		Code:      body.Code,
		Active:    body.Active,
		Title:     body.Title,
		ExpiresAt: body.ExpiresAt,
	})
	if err != nil {
		h.handleError(ctx, w, logger, err, "code", body.Code)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, HTTPCreateLinkResponse{
		ID:        resp.ID.String(),
		Code:      resp.Code,
		ShortURL:  resp.ShortURL,
		TargetURL: resp.TargetURL,
	})
}

// ListLinks handles GET /links.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	links, err := h.service.ListLinks(ctx, httpx.GetOwnerID(ctx))
	if err != nil {
		h.handleError(ctx, w, logger, err)
		return
	}

	out := make([]HTTPLinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, h.toLinkResponse(l))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GetLink handles GET /links/{id}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id, ok := h.linkIDFromPath(w, r)
	if !ok {
		return
	}

	link, err := h.service.GetLink(ctx, httpx.GetOwnerID(ctx), id)
	if err != nil {
		h.handleError(ctx, w, logger, err, "link_id", id.String())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toLinkResponse(link))
}

// UpdateLink handles PATCH /links/{id}.
func (h *Handler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id, ok := h.linkIDFromPath(w, r)
	if !ok {
		return
	}

	body, ok := decodeAndValidate[HTTPUpdateLinkRequest](h, w, r, logger)
	if !ok {
		return
	}

	link, err := h.service.UpdateLink(ctx, httpx.GetOwnerID(ctx), id, UpdateLinkRequest{
		TargetURL: body.TargetURL,
		Active:    body.Active,
		Title:     body.Title,
	})
	if err != nil {
		h.handleError(ctx, w, logger, err, "link_id", id.String())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toLinkResponse(link))
}

// DeleteLink handles DELETE /links/{id}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id, ok := h.linkIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteLink(ctx, httpx.GetOwnerID(ctx), id); err != nil {
		h.handleError(ctx, w, logger, err, "link_id", id.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveLink handles GET /{code} and redirects to the target.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	code := r.PathValue("code")
	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required", nil)
		return
	}

	link, err := h.service.ResolveCode(ctx, code)
	if err != nil {
		h.handleError(ctx, w, logger, err, "code", code)
		return
	}

	logger.DebugContext(ctx, "code resolved",
		"code", code,
		"link_id", link.ID.String(),
	)
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}

// handleError logs err at a level matching its kind and writes the response.
func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error, attrs ...any) {
	kind := errx.KindOf(err)
	logAttrs := append([]any{
		"error", err.Error(),
		"error_kind", kind.String(),
		"operation", errx.OpOf(err),
	}, attrs...)

	var details any
	switch kind {
	case errx.NotFound, errx.Invalid:
		logger.WarnContext(ctx, "request rejected", logAttrs...)

	case errx.Conflict:
		logger.WarnContext(ctx, "code conflict", logAttrs...)
		switch {
		case errors.Is(err, ErrReservedCode):
			details = map[string]string{"hint": "this code is reserved, choose another one"}
		case errors.Is(err, ErrCodeAlreadyExists):
			details = map[string]string{"hint": "try a different code or let us generate one for you"}
		}

	case errx.Unavailable:
		logger.ErrorContext(ctx, "service unavailable", logAttrs...)

	default:
		logger.ErrorContext(ctx, "unexpected error", logAttrs...)
	}

	httpx.WriteKindError(w, err, details)
}
