// Package services – DoubtService
//
// This file implements DoubtService, the single orchestrator of the doubt
// resolution pipeline. It validates requests, mutates the doubt and message
// stores transactionally, triggers the notification dispatcher, and publishes
// lifecycle events on the fan-out bus. All writes to doubts and messages go
// through this service; nothing else mutates those tables.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// doubt/course/user identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentora/go-doubt-backend/internal/bus"
	"github.com/mentora/go-doubt-backend/internal/domain"
	"github.com/mentora/go-doubt-backend/internal/notify"
	"github.com/mentora/go-doubt-backend/internal/repo"
)

// CourseDirectory is the course catalog collaborator consumed by the
// pipeline. The catalog itself is owned elsewhere; the pipeline only needs
// existence checks and the responsible party's contact address.
type CourseDirectory interface {
	// CourseExists reports whether courseID references a known course.
	CourseExists(ctx context.Context, courseID string) (bool, error)
	// ResponsibleParty returns the contact address notified about new doubts.
	ResponsibleParty(ctx context.Context, courseID string) (string, error)
}

// Authorizer gates replies: only authorized responders of a doubt's course
// may answer it.
type Authorizer interface {
	IsAuthorizedResponder(ctx context.Context, userID, courseID string) (bool, error)
}

// dispatchAsync runs fire-and-forget side effects. Tests replace it to make
// notification dispatch synchronous.
var dispatchAsync = func(fn func()) { go fn() }

// DoubtService coordinates doubt creation, educator replies, reads, and the
// realtime feed. It is safe for concurrent use.
type DoubtService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Directory validates courses and resolves notification addresses.
	Directory CourseDirectory
	// Auth decides who may reply to a course's doubts.
	Auth Authorizer
	// Notifier delivers the out-of-band alert on doubt creation.
	Notifier notify.Notifier
	// Bus fans lifecycle events out to live subscribers.
	Bus *bus.Bus

	// MaxTitleRunes and MaxTextRunes cap user-supplied fields; zero disables
	// the corresponding check.
	MaxTitleRunes int
	MaxTextRunes  int

	// NotifyTimeout bounds a single notification attempt. Defaults to 10s.
	NotifyTimeout time.Duration

	// pending tracks in-flight notification goroutines so Drain can wait for
	// them at shutdown.
	pending sync.WaitGroup
}

// CreateDoubt validates the request, persists a new open doubt, alerts the
// course's responsible party (best effort, asynchronous), and publishes
// doubt.created to the course scope.
//
// Errors: ErrEmptyTitle / ErrEmptyDescription / ErrTooLong for invalid
// input, ErrCourseNotFound when the course is unknown, or the underlying
// storage error.
func (s *DoubtService) CreateDoubt(ctx context.Context, courseID, authorID, title, description string) (*domain.Doubt, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "CreateDoubt",
		trace.WithAttributes(
			attribute.String("course.id", courseID),
			attribute.String("user.id", authorID),
		),
	)
	defer span.End()

	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if s.MaxTitleRunes > 0 && utf8.RuneCountInString(title) > s.MaxTitleRunes {
		return nil, ErrTooLong
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(description) > s.MaxTextRunes {
		return nil, ErrTooLong
	}

	exists, err := s.Directory.CourseExists(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrCourseNotFound
	}

	d, err := repo.CreateDoubt(ctx, s.DB, courseID, authorID, title, description)
	if err != nil {
		return nil, err
	}

	// The doubt is durable at this point: the alert and the live event are
	// side effects that must not fail the creation.
	s.notifyResponsibleParty(d)

	if s.Bus != nil {
		s.Bus.Publish(bus.CourseScope(d.CourseID), bus.Event{
			Kind:     bus.KindDoubtCreated,
			CourseID: d.CourseID,
			DoubtID:  d.ID,
			Payload:  d,
			At:       time.Now().UTC(),
		})
	}

	return d, nil
}

// ReplyToDoubt records an educator's reply. Inside one transaction it
// appends the message and moves the doubt to answered with the replier as
// assignee, so readers never observe one without the other. Later replies
// keep appending; the status write is idempotent and the assignee follows
// the most recent replier.
//
// After commit, message.appended and doubt.updated are published in that
// order to both the doubt scope and the course scope.
//
// Errors: ErrEmptyReply / ErrTooLong for invalid input, ErrDoubtNotFound
// when the doubt is unknown, ErrNotResponder when the caller may not answer
// this course, or the underlying storage error.
func (s *DoubtService) ReplyToDoubt(ctx context.Context, doubtID, responderID, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "ReplyToDoubt",
		trace.WithAttributes(
			attribute.String("doubt.id", doubtID),
			attribute.String("user.id", responderID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyReply
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTooLong
	}

	d, err := repo.GetDoubt(ctx, s.DB, doubtID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDoubtNotFound
		}
		return nil, err
	}

	allowed, err := s.Auth.IsAuthorizedResponder(ctx, responderID, d.CourseID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotResponder
	}

	// Persist message + status/assignee as one atomic unit. The doubt row is
	// re-read inside the transaction so concurrent replies cannot interleave
	// between the read and the write.
	var msg *domain.Message
	var updated *domain.Doubt
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := repo.GetDoubt(ctx, tx, doubtID)
		if err != nil {
			return err
		}

		m, err := repo.AppendMessage(ctx, tx, doubtID, text, true)
		if err != nil {
			return err
		}
		msg = m

		now := time.Now().UTC()
		if err := repo.AssignResponder(ctx, tx, doubtID, responderID, now); err != nil {
			return err
		}

		cur.Status = domain.StatusAnswered
		cur.AssignedResponderID = &responderID
		cur.UpdatedAt = now
		updated = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDoubtNotFound
		}
		return nil, err
	}

	if s.Bus != nil {
		now := time.Now().UTC()
		scopes := []bus.Scope{bus.DoubtScope(doubtID), bus.CourseScope(d.CourseID)}
		for _, scope := range scopes {
			s.Bus.Publish(scope, bus.Event{
				Kind:     bus.KindMessageAppended,
				CourseID: d.CourseID,
				DoubtID:  doubtID,
				Payload:  msg,
				At:       now,
			})
		}
		for _, scope := range scopes {
			s.Bus.Publish(scope, bus.Event{
				Kind:     bus.KindDoubtUpdated,
				CourseID: d.CourseID,
				DoubtID:  doubtID,
				Payload:  updated,
				At:       now,
			})
		}
	}

	return msg, nil
}

// ListDoubtsByCourse returns all doubts of a course ordered by creation time
// ascending. Pure read, no side effects.
func (s *DoubtService) ListDoubtsByCourse(ctx context.Context, courseID string) ([]domain.Doubt, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "ListDoubtsByCourse",
		trace.WithAttributes(attribute.String("course.id", courseID)),
	)
	defer span.End()

	return repo.ListDoubtsByCourse(ctx, s.DB, courseID)
}

// ListDoubtsPage returns a page of a course's doubts (creation order
// ascending) plus the total count. Returns ErrCourseNotFound when the course
// is unknown.
func (s *DoubtService) ListDoubtsPage(ctx context.Context, courseID string, page, pageSize int) ([]domain.Doubt, int64, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "ListDoubtsPage",
		trace.WithAttributes(
			attribute.String("course.id", courseID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := clampPage(page, pageSize)

	exists, err := s.Directory.CourseExists(ctx, courseID)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, ErrCourseNotFound
	}

	total, err := repo.CountDoubtsByCourse(ctx, s.DB, courseID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Doubt{}, 0, nil
	}

	items, err := repo.ListDoubtsByCoursePage(ctx, s.DB, courseID, offset, pageSize)
	return items, total, err
}

// ListMessages returns a doubt's full timeline ordered by creation time
// ascending. Pure read, no side effects.
func (s *DoubtService) ListMessages(ctx context.Context, doubtID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(attribute.String("doubt.id", doubtID)),
	)
	defer span.End()

	return repo.ListMessages(ctx, s.DB, doubtID)
}

// ListMessagesPage returns a page of a doubt's timeline plus the total
// count. Returns ErrDoubtNotFound when the doubt is unknown.
func (s *DoubtService) ListMessagesPage(ctx context.Context, doubtID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/DoubtService")
	ctx, span := tr.Start(ctx, "ListMessagesPage",
		trace.WithAttributes(
			attribute.String("doubt.id", doubtID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := clampPage(page, pageSize)

	if _, err := repo.GetDoubt(ctx, s.DB, doubtID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrDoubtNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, doubtID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, doubtID, offset, pageSize)
	return items, total, err
}

// Subscribe opens a live event feed for a course or a single doubt. The
// caller owns the returned subscription and must Close it when done. Clients
// that were offline recover missed state via the list reads, not the bus.
func (s *DoubtService) Subscribe(scope bus.Scope) *bus.Subscription {
	return s.Bus.Subscribe(scope)
}

// Drain waits for in-flight notification goroutines to finish. Called during
// graceful shutdown.
func (s *DoubtService) Drain() { s.pending.Wait() }

// notifyResponsibleParty resolves the course's contact address and sends the
// alert on a detached context, so a slow mail API cannot stall or fail the
// request that created the doubt.
func (s *DoubtService) notifyResponsibleParty(d *domain.Doubt) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s.pending.Add(1)
	dispatchAsync(func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		addr, err := s.Directory.ResponsibleParty(ctx, d.CourseID)
		if err == nil {
			subject, body := notify.NewDoubtAlert(d.Title, d.Description)
			err = s.Notifier.Notify(ctx, addr, subject, body)
		}
		notify.ObserveDispatch(err)
		if err != nil {
			log.Error().
				Err(err).
				Str("doubt_id", d.ID).
				Str("course_id", d.CourseID).
				Msg("doubt notification failed")
		}
	})
}

// clampPage applies the shared pagination defaults and returns the offset.
func clampPage(page, pageSize int) (p, ps, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}
