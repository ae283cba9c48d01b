// Package domain defines the persistence models for doubts, their message
// threads, and the course directory records they reference. These types are
// mapped with GORM and form the core data layer of the doubt resolution
// backend.
package domain

import "time"

// Doubt status values. A doubt starts open, becomes answered when the first
// educator reply lands, and may later be marked resolved by moderation.
const (
	StatusOpen     = "open"
	StatusAnswered = "answered"
	StatusResolved = "resolved"
)

// Doubt is a student-raised question scoped to a course. It is the parent of
// a flat, append-only message timeline.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - CourseID: course the doubt belongs to; indexed for per-course listing.
//   - AuthorID: identifier of the asking student; immutable once set.
//   - Title / Description: immutable after creation.
//   - Status: open|answered|resolved (enforced by DB constraint).
//   - AssignedResponderID: educator who answered; nil exactly while open.
//   - CreatedAt / UpdatedAt: UTC timestamps.
type Doubt struct {
	ID                  string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	CourseID            string    `json:"course_id"             gorm:"type:char(36);not null;index:idx_course_doubts,priority:1"`
	AuthorID            string    `json:"author_id"             gorm:"type:varchar(64);not null"`
	Title               string    `json:"title"                 gorm:"type:varchar(255);not null"`
	Description         string    `json:"description"           gorm:"type:text;not null"`
	Status              string    `json:"status"                gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','answered','resolved')"`
	AssignedResponderID *string   `json:"assigned_responder_id" gorm:"type:varchar(64)"`
	CreatedAt           time.Time `json:"created_at"            gorm:"index:idx_course_doubts,priority:2"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName returns the database table name for Doubt.
func (Doubt) TableName() string { return "doubts" }

// IsOpen reports whether the doubt has not yet been answered.
func (d *Doubt) IsOpen() bool { return d.Status == StatusOpen }

// Message is a single entry in a doubt's conversation timeline. Messages are
// never updated or deleted once stored; ordering is (CreatedAt, ID) ascending.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - DoubtID: foreign key to the owning doubt (indexed).
//   - Text: message body, non-empty after trimming.
//   - IsResponse: true when authored by a responder, false for the asker.
//   - CreatedAt: UTC timestamp, part of the timeline ordering.
type Message struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	DoubtID    string    `json:"doubt_id"    gorm:"type:char(36);not null;index:idx_doubt_msgs,priority:1"`
	Text       string    `json:"text"        gorm:"type:text;not null"`
	IsResponse bool      `json:"is_response" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_doubt_msgs,priority:2"`

	// Doubt is the parent thread. Messages are cascade-deleted only if the
	// doubt is removed by out-of-band moderation tooling.
	Doubt Doubt `json:"-" gorm:"foreignKey:DoubtID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Course is a directory record consumed by the doubt pipeline. Catalog CRUD
// lives elsewhere; this model only carries what CreateDoubt validation and
// notification addressing need.
type Course struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Title      string    `json:"title"       gorm:"type:varchar(255);not null"`
	EducatorID string    `json:"educator_id" gorm:"type:char(36);not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Course.
func (Course) TableName() string { return "courses" }

// Educator links a platform user to their responder identity and the contact
// address used for doubt notifications.
type Educator struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Email     string    `json:"email"   gorm:"type:varchar(254);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Educator.
func (Educator) TableName() string { return "educators" }
