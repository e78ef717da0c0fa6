package http

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/viralforge/newsletter-service/internal/application"
	"github.com/viralforge/newsletter-service/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxPublishBodyBytes  = 1 << 20
)

type publishRequest struct {
	Title          string `json:"title"`
	HTMLContent    string `json:"html_content"`
	TextContent    string `json:"text_content"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) publishNewsletter(w http.ResponseWriter, r *http.Request) {
	operator, ok := operatorFromContext(r.Context())
	if !ok {
		writeMappedError(r.Context(), w, "publish_newsletter", domain.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBodyBytes)
	req, err := readPublishRequest(r)
	if err != nil {
		writeValidationError(r.Context(), w, "publish_newsletter", err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		key = req.IdempotencyKey
	}

	res, err := h.service.PublishNewsletter(r.Context(), application.PublishCommand{
		Operator:       operator,
		IdempotencyKey: key,
		Issue: domain.NewsletterIssue{
			Title:       req.Title,
			HTMLContent: req.HTMLContent,
			TextContent: req.TextContent,
		},
	})
	if err != nil {
		writeMappedError(r.Context(), w, "publish_newsletter", err)
		return
	}
	writeSavedResponse(w, res.Response, res.Replayed)
}

// readPublishRequest accepts the issue either as JSON or as an HTML form post.
func readPublishRequest(r *http.Request) (publishRequest, error) {
	mediaType := "application/json"
	if raw := r.Header.Get("Content-Type"); raw != "" {
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			return publishRequest{}, fmt.Errorf("invalid content type: %w", err)
		}
		mediaType = parsed
	}

	switch mediaType {
	case "application/json":
		var req publishRequest
		if err := decodeBody(r, &req); err != nil {
			return publishRequest{}, fmt.Errorf("invalid json body: %w", err)
		}
		return req, nil
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxPublishBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return publishRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		return publishRequest{
			Title:          r.PostFormValue("title"),
			HTMLContent:    r.PostFormValue("html_content"),
			TextContent:    r.PostFormValue("text_content"),
			IdempotencyKey: r.PostFormValue("idempotency_key"),
		}, nil
	default:
		return publishRequest{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
}
