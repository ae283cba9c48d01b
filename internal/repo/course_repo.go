// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the course directory: the read-side
// queries the doubt pipeline needs to validate courses, address
// notifications, and gate educator replies. Catalog CRUD is owned by another
// part of the platform; only seeding helpers are exposed here for tooling
// and tests.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mentora/go-doubt-backend/internal/domain"
)

// Directory answers course and responder lookups straight from the courses
// and educators tables. It implements the services.CourseDirectory and
// services.Authorizer contracts.
type Directory struct {
	// DB is the GORM handle used for all lookups.
	DB *gorm.DB
}

// CourseExists reports whether a course with the given ID is on record.
func (d *Directory) CourseExists(ctx context.Context, courseID string) (bool, error) {
	var n int64
	err := d.DB.WithContext(ctx).
		Model(&domain.Course{}).
		Where("id = ?", courseID).
		Count(&n).Error
	return n > 0, err
}

// ResponsibleParty returns the contact address of the educator who owns the
// course. Returns ErrNotFound when the course or its educator is missing.
func (d *Directory) ResponsibleParty(ctx context.Context, courseID string) (string, error) {
	var email string
	err := d.DB.WithContext(ctx).
		Model(&domain.Course{}).
		Select("educators.email").
		Joins("JOIN educators ON educators.id = courses.educator_id").
		Where("courses.id = ?", courseID).
		Scan(&email).Error
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", ErrNotFound
	}
	return email, nil
}

// IsAuthorizedResponder reports whether userID is the educator responsible
// for courseID. Unknown users and unknown courses are simply not authorized;
// no error is returned for them.
func (d *Directory) IsAuthorizedResponder(ctx context.Context, userID, courseID string) (bool, error) {
	var n int64
	err := d.DB.WithContext(ctx).
		Model(&domain.Course{}).
		Joins("JOIN educators ON educators.id = courses.educator_id").
		Where("courses.id = ? AND educators.user_id = ?", courseID, userID).
		Count(&n).Error
	return n > 0, err
}

// EducatorIDForUser resolves the educator record ID for a platform user.
// Returns ErrNotFound when the user has no educator identity.
func EducatorIDForUser(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var e domain.Educator
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// SeedCourse inserts a course directory record. Used by admin tooling and tests.
func SeedCourse(ctx context.Context, db *gorm.DB, title, educatorID string) (*domain.Course, error) {
	c := &domain.Course{
		ID:         uuid.NewString(),
		Title:      title,
		EducatorID: educatorID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// SeedEducator inserts an educator directory record. Used by admin tooling and tests.
func SeedEducator(ctx context.Context, db *gorm.DB, userID, email string) (*domain.Educator, error) {
	e := &domain.Educator{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}
