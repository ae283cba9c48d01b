// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Doubt model.
//
// All functions accept a *gorm.DB handle, making them safe for use within
// transactions or connection-scoped operations. They follow the "thin
// repository" approach: no business logic, only CRUD persistence and query
// composition.
//
// Error semantics:
//   - When a doubt is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mentora/go-doubt-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateDoubt inserts a new open doubt raised by authorID against courseID.
// The doubt ID is a randomly generated UUID and CreatedAt is set to UTC.
func CreateDoubt(ctx context.Context, db *gorm.DB, courseID, authorID, title, description string) (*domain.Doubt, error) {
	now := time.Now().UTC()
	d := &domain.Doubt{
		ID:          uuid.NewString(),
		CourseID:    courseID,
		AuthorID:    authorID,
		Title:       title,
		Description: description,
		Status:      domain.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// GetDoubt fetches a single doubt by its ID. If the record does not exist,
// it returns ErrNotFound.
func GetDoubt(ctx context.Context, db *gorm.DB, id string) (*domain.Doubt, error) {
	var d domain.Doubt
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDoubtsByCourse returns all doubts for a course ordered deterministically
// by creation time ascending (CreatedAt ASC, ID ASC). It returns an empty
// slice when the course has no doubts.
func ListDoubtsByCourse(ctx context.Context, db *gorm.DB, courseID string) ([]domain.Doubt, error) {
	var out []domain.Doubt
	err := db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountDoubtsByCourse returns the total number of doubts raised against a course.
func CountDoubtsByCourse(ctx context.Context, db *gorm.DB, courseID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Doubt{}).
		Where("course_id = ?", courseID).
		Count(&total).Error
	return total, err
}

// ListDoubtsByCoursePage returns a paginated slice of course doubts in the
// same ascending order as ListDoubtsByCourse. The caller computes offset and
// limit (e.g., (page-1)*pageSize).
func ListDoubtsByCoursePage(ctx context.Context, db *gorm.DB, courseID string, offset, limit int) ([]domain.Doubt, error) {
	var out []domain.Doubt
	err := db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AssignResponder moves a doubt to answered and records the responder, in a
// single UPDATE. It is idempotent with respect to status: calling it on an
// already-answered doubt only refreshes the assignee (last writer wins) and
// the UpdatedAt stamp. Returns ErrNotFound when the doubt does not exist.
func AssignResponder(ctx context.Context, db *gorm.DB, doubtID, responderID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Doubt{}).
		Where("id = ?", doubtID).
		Updates(map[string]any{
			"status":                domain.StatusAnswered,
			"assigned_responder_id": responderID,
			"updated_at":            now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
