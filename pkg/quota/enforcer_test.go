package quota

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/models"
)

func newTestRecorder(t *testing.T) *analytics.SQLiteRecorder {
	t.Helper()
	r, err := analytics.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestCheckUnderLimit(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	_ = rec.Track(ctx, models.Event{UserID: 1, Type: models.EventQuestionAsked, CreatedAt: time.Now().UTC()})

	e := New([]models.QuotaPolicy{
		{UserID: "*", MaxEvents: 5, Period: models.QuotaDaily},
	}, rec)

	if err := e.Check(ctx, 1); err != nil {
		t.Errorf("expected under limit, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_ = rec.Track(ctx, models.Event{
			UserID: 1, Type: models.EventQuestionAsked,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	e := New([]models.QuotaPolicy{
		{UserID: "*", MaxEvents: 3, Period: models.QuotaDaily},
	}, rec)

	if err := e.Check(ctx, 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
	// A different user is unaffected.
	if err := e.Check(ctx, 2); err != nil {
		t.Errorf("expected user 2 under limit, got %v", err)
	}
}

func TestPolicyMatchesSpecificUser(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	_ = rec.Track(ctx, models.Event{UserID: 7, Type: models.EventQuestionAsked, CreatedAt: time.Now().UTC()})

	e := New([]models.QuotaPolicy{
		{UserID: "7", MaxEvents: 1, Period: models.QuotaDaily},
	}, rec)

	if err := e.Check(ctx, 7); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded for user 7, got %v", err)
	}
	if err := e.Check(ctx, 8); err != nil {
		t.Errorf("expected no policy for user 8, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	_ = rec.Track(ctx, models.Event{UserID: 1, Type: models.EventTopicViewed, CreatedAt: time.Now().UTC()})

	e := New([]models.QuotaPolicy{
		{UserID: "*", MaxEvents: 10, Period: models.QuotaDaily},
	}, rec)

	statuses, err := e.Status(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Used != 1 || statuses[0].Remaining != 9 {
		t.Errorf("unexpected status: %+v", statuses[0])
	}
}
