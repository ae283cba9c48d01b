// Package services defines the business logic of the doubt resolution
// pipeline. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// The errors fall into three families that the HTTP layer maps onto status
// codes: invalid input (empty or oversized fields), missing references
// (course or doubt), and denied permissions (caller is not a responder for
// the course). Storage failures are propagated as raw errors.
package services

import "errors"

var (
	// ErrCourseNotFound indicates that the referenced course does not exist
	// in the directory.
	ErrCourseNotFound = errors.New("course not found")

	// ErrDoubtNotFound indicates that the requested doubt does not exist.
	ErrDoubtNotFound = errors.New("doubt not found")

	// ErrEmptyTitle is returned when a doubt is created with a title that is
	// empty after trimming.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrEmptyDescription is returned when a doubt is created with a
	// description that is empty after trimming.
	ErrEmptyDescription = errors.New("description is empty")

	// ErrEmptyReply is returned when a reply contains no text after trimming.
	ErrEmptyReply = errors.New("reply text is empty")

	// ErrTooLong is returned when a field exceeds its configured rune limit.
	ErrTooLong = errors.New("input too long")

	// ErrNotResponder is returned when the caller is not an authorized
	// responder for the doubt's course.
	ErrNotResponder = errors.New("not an authorized responder for this course")
)
