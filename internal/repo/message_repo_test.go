package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mentora/go-doubt-backend/internal/domain"
)

// seedDoubt inserts a parent doubt row so message writes satisfy the foreign
// key constraint.
func seedDoubt(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	now := time.Now().UTC()
	d := domain.Doubt{ID: id, CourseID: "c1", AuthorID: "u1", Title: "t", Description: "d", Status: domain.StatusOpen, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&d).Error; err != nil {
		t.Fatalf("seed doubt %s: %v", id, err)
	}
}

func TestAppendMessage_Error_NoTable(t *testing.T) {
	db := newRepoDB(t /* no migrations */)
	m, err := AppendMessage(context.Background(), db, "d1", "hello", false)
	if err == nil || m != nil {
		t.Fatalf("expected error without table, got msg=%v err=%v", m, err)
	}
}

func TestAppendMessage_Success(t *testing.T) {
	db := newRepoDB(t, &domain.Doubt{}, &domain.Message{})
	seedDoubt(t, db, "d1")

	start := time.Now().UTC().Add(-time.Minute)
	m, err := AppendMessage(context.Background(), db, "d1", "the answer", true)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if m.ID == "" || m.DoubtID != "d1" || m.Text != "the answer" || !m.IsResponse {
		t.Fatalf("unexpected Message fields: %+v", m)
	}
	if m.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset: %v", m.CreatedAt)
	}

	var got domain.Message
	if err := db.First(&got, "id = ?", m.ID).Error; err != nil {
		t.Fatalf("load created message: %v", err)
	}
	if got.Text != "the answer" || !got.IsResponse {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestListMessages_OrderAscendingAndFilter(t *testing.T) {
	db := newRepoDB(t, &domain.Doubt{}, &domain.Message{})
	seedDoubt(t, db, "d1")
	seedDoubt(t, db, "d2")

	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	rows := []domain.Message{
		{ID: "m2", DoubtID: "d1", Text: "b", CreatedAt: t2},
		{ID: "m1", DoubtID: "d1", Text: "a", CreatedAt: t1},
		{ID: "m3", DoubtID: "d1", Text: "c", IsResponse: true, CreatedAt: t3},
		{ID: "mx", DoubtID: "d2", Text: "other", CreatedAt: t2},
	}
	for _, m := range rows {
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed %s: %v", m.ID, err)
		}
	}

	list, err := ListMessages(context.Background(), db, "d1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 messages for d1, got %d", len(list))
	}
	if list[0].ID != "m1" || list[1].ID != "m2" || list[2].ID != "m3" {
		t.Fatalf("unexpected order: %#v", list)
	}
}

func TestCountMessages_Error_NoTable(t *testing.T) {
	db := newRepoDB(t /* no migrations */)
	if _, err := CountMessages(context.Background(), db, "d1"); err == nil {
		t.Fatalf("expected error when table missing")
	}
}

func TestCountMessages(t *testing.T) {
	db := newRepoDB(t, &domain.Doubt{}, &domain.Message{})
	seedDoubt(t, db, "d1")
	seedDoubt(t, db, "d2")

	for i := 0; i < 3; i++ {
		if _, err := AppendMessage(context.Background(), db, "d1", fmt.Sprintf("m%d", i), false); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if _, err := AppendMessage(context.Background(), db, "d2", "other", false); err != nil {
		t.Fatalf("seed other doubt: %v", err)
	}

	n, err := CountMessages(context.Background(), db, "d1")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestListMessagesPage_Window(t *testing.T) {
	db := newRepoDB(t, &domain.Doubt{}, &domain.Message{})
	seedDoubt(t, db, "d1")

	base := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := domain.Message{ID: fmt.Sprintf("m%d", i), DoubtID: "d1", Text: "x", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	page, err := ListMessagesPage(context.Background(), db, "d1", 1, 2)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m1" || page[1].ID != "m2" {
		t.Fatalf("unexpected window: %#v", page)
	}
}
