package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/models"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	r, err := New(dbPath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestTrackAndSummary(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	events := []models.Event{
		{UserID: 1, Type: models.EventTopicViewed, Payload: "Смутное время"},
		{UserID: 1, Type: models.EventTopicViewed, Payload: "Реформы Петра I"},
		{UserID: 2, Type: models.EventTestCompleted, Payload: "3/5"},
	}
	for _, ev := range events {
		if err := r.Track(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := r.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary rows, got %d", len(summaries))
	}
	for _, s := range summaries {
		switch s.Type {
		case models.EventTopicViewed:
			if s.Count != 2 {
				t.Errorf("expected 2 topic views, got %d", s.Count)
			}
		case models.EventTestCompleted:
			if s.Count != 1 {
				t.Errorf("expected 1 completed test, got %d", s.Count)
			}
		}
	}
}

func TestCountByUser(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_ = r.Track(ctx, models.Event{
			UserID: 7, Type: models.EventQuestionAsked,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	_ = r.Track(ctx, models.Event{
		UserID: 7, Type: models.EventQuestionAsked,
		CreatedAt: now.Add(-48 * time.Hour),
	})

	count, err := r.CountByUser(ctx, 7, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 events in window, got %d", count)
	}
}

func TestTopTopics(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = r.Track(ctx, models.Event{UserID: 1, Type: models.EventTopicViewed, Payload: "Крещение Руси"})
	}
	_ = r.Track(ctx, models.Event{UserID: 2, Type: models.EventTopicViewed, Payload: "Смутное время"})
	_ = r.Track(ctx, models.Event{UserID: 2, Type: models.EventQuestionAsked, Payload: "не тема"})

	topics, err := r.TopTopics(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Topic != "Крещение Руси" || topics[0].Count != 3 {
		t.Errorf("unexpected top topic: %+v", topics[0])
	}
}
