// Doubt HTTP handlers.
//
// This file exposes the REST surface of the doubt pipeline:
//   - POST /doubts                    (raise a doubt against a course)
//   - GET  /courses/{id}/doubts      (list a course's doubts, paginated)
//   - POST /doubts/{id}/reply        (educator reply; answers the doubt)
//   - GET  /doubts/{id}/messages     (list a doubt's timeline, paginated)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate
// to the doubt service, and translate sentinel errors into HTTP responses.
//
// Idempotency:
// If the client supplies an Idempotency-Key header on doubt creation and a
// previous successful result exists for (user, course, key), the handler
// returns the recorded doubt and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/mentora/go-doubt-backend/internal/bus"
	"github.com/mentora/go-doubt-backend/internal/domain"
	"github.com/mentora/go-doubt-backend/internal/http/middleware"
	"github.com/mentora/go-doubt-backend/internal/repo"
	"github.com/mentora/go-doubt-backend/internal/services"
	"github.com/mentora/go-doubt-backend/internal/utils"
)

//
// Service contract (context-aware)
//

// DoubtService defines the pipeline operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type DoubtService interface {
	// CreateDoubt raises a new open doubt against a course.
	CreateDoubt(ctx context.Context, courseID, authorID, title, description string) (*domain.Doubt, error)
	// ReplyToDoubt appends a responder message and answers the doubt atomically.
	ReplyToDoubt(ctx context.Context, doubtID, responderID, text string) (*domain.Message, error)
	// ListDoubtsPage returns a page of a course's doubts and the total count.
	ListDoubtsPage(ctx context.Context, courseID string, page, pageSize int) ([]domain.Doubt, int64, error)
	// ListMessagesPage returns a page of a doubt's timeline and the total count.
	ListMessagesPage(ctx context.Context, doubtID string, page, pageSize int) ([]domain.Message, int64, error)
	// Subscribe opens a live event feed for a course or doubt scope.
	Subscribe(scope bus.Scope) *bus.Subscription
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the doubt pipeline. It depends on
// the abstract service interface to keep transport concerns separate from
// business logic; the bus handle is only used for the realtime status
// endpoint.
type Handlers struct {
	svc DoubtService
	bus *bus.Bus
}

// New constructs a Handlers instance bound to the given service and bus.
func New(svc DoubtService, b *bus.Bus) *Handlers {
	return &Handlers{svc: svc, bus: b}
}

// userID extracts the authenticated user id from Gin context (set by
// upstream middleware). If absent, it falls back to the "X-User-ID" header
// (tests use it), and finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateDoubtRequest is the JSON payload for raising a doubt.
type CreateDoubtRequest struct {
	// CourseID references the course the doubt is about.
	CourseID string `json:"course_id" binding:"required" example:"5b2e1c1e-74a9-4f0c-9c8e-2f1f25b7a111"`
	// Title is a short summary of the question.
	Title string `json:"title" binding:"required,min=1,max=255" example:"Why recursion fails"`
	// Description is the full question text.
	Description string `json:"description" binding:"required,min=1" example:"Stack overflow on depth 1000"`
}

// DoubtResponse is the JSON envelope for a single doubt.
type DoubtResponse struct {
	Doubt *domain.Doubt `json:"doubt"`
}

// ReplyRequest is the JSON payload for an educator reply.
type ReplyRequest struct {
	// Text is the reply body. It must be non-empty.
	Text string `json:"text" binding:"required,min=1" example:"Increase base-case check"`
}

// MessageResponse is the JSON envelope for a newly appended message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDoubtsResponse wraps a page of doubts and pagination information.
type ListDoubtsResponse struct {
	Doubts     []domain.Doubt `json:"doubts"`
	Pagination Pagination     `json:"pagination"`
}

// ListMessagesResponse contains a page of timeline messages and pagination
// metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text for consistent downstream behavior:
// Unicode NFC, CRLF/CR to LF, runs of 3+ LFs collapsed to two, surrounding
// whitespace trimmed.
func sanitizeText(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// CreateDoubt handles POST /doubts. On success it responds 201 with the new
// doubt; supplying a previously used Idempotency-Key replays the original
// result instead of creating a second doubt.
func (h *Handlers) CreateDoubt(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateDoubtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "course_id, title and description required")
		return
	}

	title := sanitizeText(req.Title)
	description := sanitizeText(req.Description)
	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	if idemKey != "" {
		if svc, okSvc := h.svc.(*services.DoubtService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, req.CourseID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetDoubt(ctx, svc.DB, rec.DoubtID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, DoubtResponse{Doubt: prev})
					return
				}
			}
		}
	}

	d, err := h.svc.CreateDoubt(ctx, req.CourseID, currentUser, title, description)
	if err != nil {
		switch err {
		case services.ErrEmptyTitle, services.ErrEmptyDescription, services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrCourseNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "course not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.svc.(*services.DoubtService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, req.CourseID, idemKey, d.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, DoubtResponse{Doubt: d})
}

// ListCourseDoubts handles GET /courses/:id/doubts. Doubts come back in
// creation order ascending so clients can render a stable feed.
func (h *Handlers) ListCourseDoubts(c *gin.Context) {
	ctx := c.Request.Context()
	courseID := c.Param("id")

	if _, err := uuid.Parse(courseID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "course id must be a UUID")
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.svc.ListDoubtsPage(ctx, courseID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrCourseNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "course not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListDoubtsResponse{
		Doubts:     items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}

// ReplyToDoubt handles POST /doubts/:id/reply. Only authorized responders of
// the doubt's course may reply; the first reply answers the doubt.
func (h *Handlers) ReplyToDoubt(c *gin.Context) {
	ctx := c.Request.Context()
	doubtID := c.Param("id")

	if _, err := uuid.Parse(doubtID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doubt id must be a UUID")
		return
	}

	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	text := sanitizeText(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	m, err := h.svc.ReplyToDoubt(ctx, doubtID, userID(c), text)
	if err != nil {
		switch err {
		case services.ErrEmptyReply, services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case services.ErrDoubtNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "doubt not found")
		case services.ErrNotResponder:
			fail(c, http.StatusForbidden, ErrCodeForbidden, "only course responders can reply to doubts")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeReplyFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// ListDoubtMessages handles GET /doubts/:id/messages. The timeline comes
// back in creation order ascending.
func (h *Handlers) ListDoubtMessages(c *gin.Context) {
	ctx := c.Request.Context()
	doubtID := c.Param("id")

	if _, err := uuid.Parse(doubtID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "doubt id must be a UUID")
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.svc.ListMessagesPage(ctx, doubtID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrDoubtNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "doubt not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}

// paginationMeta computes the shared pagination envelope.
func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
