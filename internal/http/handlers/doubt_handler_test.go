package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentora/go-doubt-backend/internal/bus"
	"github.com/mentora/go-doubt-backend/internal/domain"
	"github.com/mentora/go-doubt-backend/internal/services"
)

// fakeSvc implements DoubtService with function fields so each test controls
// exactly the behavior it needs.
type fakeSvc struct {
	createFn   func(ctx context.Context, courseID, authorID, title, description string) (*domain.Doubt, error)
	replyFn    func(ctx context.Context, doubtID, responderID, text string) (*domain.Message, error)
	doubtsFn   func(ctx context.Context, courseID string, page, pageSize int) ([]domain.Doubt, int64, error)
	messagesFn func(ctx context.Context, doubtID string, page, pageSize int) ([]domain.Message, int64, error)
	bus        *bus.Bus
}

func (f *fakeSvc) CreateDoubt(ctx context.Context, courseID, authorID, title, description string) (*domain.Doubt, error) {
	return f.createFn(ctx, courseID, authorID, title, description)
}

func (f *fakeSvc) ReplyToDoubt(ctx context.Context, doubtID, responderID, text string) (*domain.Message, error) {
	return f.replyFn(ctx, doubtID, responderID, text)
}

func (f *fakeSvc) ListDoubtsPage(ctx context.Context, courseID string, page, pageSize int) ([]domain.Doubt, int64, error) {
	return f.doubtsFn(ctx, courseID, page, pageSize)
}

func (f *fakeSvc) ListMessagesPage(ctx context.Context, doubtID string, page, pageSize int) ([]domain.Message, int64, error) {
	return f.messagesFn(ctx, doubtID, page, pageSize)
}

func (f *fakeSvc) Subscribe(scope bus.Scope) *bus.Subscription {
	return f.bus.Subscribe(scope)
}

func newTestRouter(t *testing.T, svc DoubtService, b *bus.Bus) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := New(svc, b)
	r := gin.New()
	r.POST("/doubts", h.CreateDoubt)
	r.POST("/doubts/:id/reply", h.ReplyToDoubt)
	r.GET("/doubts/:id/messages", h.ListDoubtMessages)
	r.GET("/doubts/:id/stream", h.StreamDoubt)
	r.GET("/courses/:id/doubts", h.ListCourseDoubts)
	r.GET("/courses/:id/doubts/stream", h.StreamCourse)
	r.GET("/realtime/status", h.RealtimeStatus)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- CreateDoubt ----------

func TestCreateDoubt_BadJSON(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	w := doJSON(t, r, http.MethodPost, "/doubts", `{"title": 42}`, "u1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request code, got %q", resp.Code)
	}
}

func TestCreateDoubt_CourseNotFound(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	svc := &fakeSvc{
		bus: b,
		createFn: func(context.Context, string, string, string, string) (*domain.Doubt, error) {
			return nil, services.ErrCourseNotFound
		},
	}
	r := newTestRouter(t, svc, b)

	body := `{"course_id":"` + uuid.NewString() + `","title":"t","description":"d"}`
	w := doJSON(t, r, http.MethodPost, "/doubts", body, "u1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestCreateDoubt_ValidationErrorsMapTo400(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	for _, sentinel := range []error{services.ErrEmptyTitle, services.ErrEmptyDescription, services.ErrTooLong} {
		svc := &fakeSvc{
			bus: b,
			createFn: func(context.Context, string, string, string, string) (*domain.Doubt, error) {
				return nil, sentinel
			},
		}
		r := newTestRouter(t, svc, b)

		body := `{"course_id":"c1","title":"t","description":"d"}`
		w := doJSON(t, r, http.MethodPost, "/doubts", body, "u1")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", sentinel, w.Code)
		}
	}
}

func TestCreateDoubt_Success(t *testing.T) {
	b := bus.New(1)
	defer b.Close()

	var gotAuthor, gotTitle string
	svc := &fakeSvc{
		bus: b,
		createFn: func(_ context.Context, courseID, authorID, title, description string) (*domain.Doubt, error) {
			gotAuthor, gotTitle = authorID, title
			return &domain.Doubt{
				ID:          "d1",
				CourseID:    courseID,
				AuthorID:    authorID,
				Title:       title,
				Description: description,
				Status:      domain.StatusOpen,
				CreatedAt:   time.Now().UTC(),
				UpdatedAt:   time.Now().UTC(),
			}, nil
		},
	}
	r := newTestRouter(t, svc, b)

	body := `{"course_id":"c1","title":"  Why?  ","description":"Because\r\n\r\n\r\nof reasons"}`
	w := doJSON(t, r, http.MethodPost, "/doubts", body, "student-7")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	if gotAuthor != "student-7" {
		t.Fatalf("author must come from X-User-ID, got %q", gotAuthor)
	}
	if gotTitle != "Why?" {
		t.Fatalf("title must be sanitized, got %q", gotTitle)
	}

	var resp DoubtResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Doubt == nil || resp.Doubt.ID != "d1" || resp.Doubt.Status != domain.StatusOpen {
		t.Fatalf("unexpected response doubt: %+v", resp.Doubt)
	}
}

// ---------- ReplyToDoubt ----------

func TestReplyToDoubt_BadDoubtID(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	r := newTestRouter(t, &fakeSvc{bus: b}, b)

	w := doJSON(t, r, http.MethodPost, "/doubts/not-a-uuid/reply", `{"text":"a"}`, "edu-1")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReplyToDoubt_ErrorMapping(t *testing.T) {
	b := bus.New(1)
	defer b.Close()

	cases := []struct {
		err  error
		code int
	}{
		{services.ErrDoubtNotFound, http.StatusNotFound},
		{services.ErrNotResponder, http.StatusForbidden},
		{services.ErrEmptyReply, http.StatusBadRequest},
		{services.ErrTooLong, http.StatusBadRequest},
	}
	for _, tc := range cases {
		svc := &fakeSvc{
			bus: b,
			replyFn: func(context.Context, string, string, string) (*domain.Message, error) {
				return nil, tc.err
			},
		}
		r := newTestRouter(t, svc, b)

		w := doJSON(t, r, http.MethodPost, "/doubts/"+uuid.NewString()+"/reply", `{"text":"a"}`, "edu-1")
		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestReplyToDoubt_Success(t *testing.T) {
	b := bus.New(1)
	defer b.Close()

	svc := &fakeSvc{
		bus: b,
		replyFn: func(_ context.Context, doubtID, responderID, text string) (*domain.Message, error) {
			return &domain.Message{ID: "m1", DoubtID: doubtID, Text: text, IsResponse: true, CreatedAt: time.Now().UTC()}, nil
		},
	}
	r := newTestRouter(t, svc, b)

	w := doJSON(t, r, http.MethodPost, "/doubts/"+uuid.NewString()+"/reply", `{"text":"use memoization"}`, "edu-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Message == nil || !resp.Message.IsResponse || resp.Message.Text != "use memoization" {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
}

// ---------- lists ----------

func TestListCourseDoubts_PaginationEnvelope(t *testing.T) {
	b := bus.New(1)
	defer b.Close()

	svc := &fakeSvc{
		bus: b,
		doubtsFn: func(_ context.Context, courseID string, page, pageSize int) ([]domain.Doubt, int64, error) {
			if page != 2 || pageSize != 2 {
				t.Fatalf("expected page=2 size=2, got %d/%d", page, pageSize)
			}
			return []domain.Doubt{{ID: "d3", CourseID: courseID}}, 5, nil
		},
	}
	r := newTestRouter(t, svc, b)

	w := doJSON(t, r, http.MethodGet, "/courses/"+uuid.NewString()+"/doubts?page=2&page_size=2", "", "u1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var resp ListDoubtsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	p := resp.Pagination
	if p.Total != 5 || p.TotalPages != 3 || !p.HasNext || p.Page != 2 || p.PageSize != 2 {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	if len(resp.Doubts) != 1 || resp.Doubts[0].ID != "d3" {
		t.Fatalf("unexpected items: %+v", resp.Doubts)
	}
}

func TestListCourseDoubts_CourseNotFound(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	svc := &fakeSvc{
		bus: b,
		doubtsFn: func(context.Context, string, int, int) ([]domain.Doubt, int64, error) {
			return nil, 0, services.ErrCourseNotFound
		},
	}
	r := newTestRouter(t, svc, b)

	w := doJSON(t, r, http.MethodGet, "/courses/"+uuid.NewString()+"/doubts", "", "u1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListDoubtMessages_DoubtNotFound(t *testing.T) {
	b := bus.New(1)
	defer b.Close()
	svc := &fakeSvc{
		bus: b,
		messagesFn: func(context.Context, string, int, int) ([]domain.Message, int64, error) {
			return nil, 0, services.ErrDoubtNotFound
		},
	}
	r := newTestRouter(t, svc, b)

	w := doJSON(t, r, http.MethodGet, "/doubts/"+uuid.NewString()+"/messages", "", "u1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestClampPagination_DefaultsAndCaps(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		query        string
		page, size   int
	}{
		{"", 1, 20},
		{"?page=0&page_size=0", 1, 1},
		{"?page=-3", 1, 20},
		{"?page=7&page_size=500", 7, 100},
		{"?page=abc&page_size=xyz", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
		page, size := clampPagination(c)
		if page != tc.page || size != tc.size {
			t.Fatalf("%q: got %d/%d, want %d/%d", tc.query, page, size, tc.page, tc.size)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	in := "  hello\r\nworld\n\n\n\nbye  "
	want := "hello\nworld\n\nbye"
	if got := sanitizeText(in); got != want {
		t.Fatalf("sanitizeText: got %q, want %q", got, want)
	}
}

func TestUserID_FallbackChain(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := userID(c); got != "demo-user" {
		t.Fatalf("expected demo-user fallback, got %q", got)
	}

	c.Request.Header.Set("X-User-ID", "header-user")
	if got := userID(c); got != "header-user" {
		t.Fatalf("expected header user, got %q", got)
	}

	c.Set("userID", "ctx-user")
	if got := userID(c); got != "ctx-user" {
		t.Fatalf("context identity must win, got %q", got)
	}
}
