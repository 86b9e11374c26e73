package progress

import (
	"path/filepath"
	"testing"
	"time"

	"projectbrowser/internal/cache"
	"projectbrowser/internal/database"
	"projectbrowser/internal/keyvalue"
)

func newSQLTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return NewTracker(keyvalue.NewFactory(db).Get(Collection))
}

func TestSetStateLastWriteWins(t *testing.T) {
	tracker := newSQLTracker(t)
	ctx := t.Context()

	steps := []struct {
		id    string
		phase Phase
	}{
		{"drupal_org/pkg1", PhaseRequiring},
		{"drupal_org/pkg2", PhaseRequiring},
		{"drupal_org/pkg1", PhaseApplying},
		{"drupal_org/pkg2", PhaseApplying},
		{"drupal_org/pkg1", PhaseActivating},
		{"drupal_org/pkg1", PhaseInstalled},
		{"drupal_org/pkg1", PhaseInstalled},
	}
	for _, s := range steps {
		if err := tracker.SetState(ctx, s.id, s.phase); err != nil {
			t.Fatalf("SetState(%s, %s) error = %v", s.id, s.phase, err)
		}
	}

	got, err := tracker.ToArray(ctx)
	if err != nil {
		t.Fatalf("ToArray() error = %v", err)
	}
	want := map[string]Phase{
		"drupal_org/pkg1": PhaseInstalled,
		"drupal_org/pkg2": PhaseApplying,
	}
	if len(got) != len(want) {
		t.Fatalf("ToArray() = %v, want %v", got, want)
	}
	for id, phase := range want {
		if got[id] != phase {
			t.Errorf("state[%s] = %s, want %s", id, got[id], phase)
		}
	}
}

func TestFirstUpdatedTimeIsEarliest(t *testing.T) {
	tracker := newSQLTracker(t)
	ctx := t.Context()
	now := time.Unix(1_700_000_000, 0)
	tracker.now = func() time.Time { return now }

	if _, ok, err := tracker.FirstUpdatedTime(ctx); err != nil || ok {
		t.Fatalf("FirstUpdatedTime() before any update = %v, %v", ok, err)
	}

	first := now
	if err := tracker.SetState(ctx, "src/a", PhaseRequiring); err != nil {
		t.Fatal(err)
	}
	now = now.Add(10 * time.Minute)
	if err := tracker.SetState(ctx, "src/a", PhaseApplying); err != nil {
		t.Fatal(err)
	}

	got, ok, err := tracker.FirstUpdatedTime(ctx)
	if err != nil || !ok {
		t.Fatalf("FirstUpdatedTime() = %v, %v", ok, err)
	}
	if !got.Equal(first) {
		t.Errorf("FirstUpdatedTime() = %v, want %v", got, first)
	}
}

func TestDeleteAllClearsStateAndTimestamp(t *testing.T) {
	tracker := NewTracker(cache.New(time.Hour))
	ctx := t.Context()

	if err := tracker.SetState(ctx, "src/a", PhaseRequiring); err != nil {
		t.Fatal(err)
	}
	if err := tracker.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}

	states, err := tracker.ToArray(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("expected no states, got %v", states)
	}
	if _, ok, _ := tracker.FirstUpdatedTime(ctx); ok {
		t.Error("expected timestamp to be cleared")
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "less than 1 minute"},
		{time.Minute, "1 minute"},
		{6*time.Minute + 59*time.Second, "6 minutes"},
		{61 * time.Minute, "1 hour, 1 minute"},
		{2*time.Hour + 5*time.Minute, "2 hours, 5 minutes"},
		{3 * time.Hour, "3 hours, 0 minutes"},
	}
	for _, tt := range tests {
		if got := FormatAge(tt.in); got != tt.want {
			t.Errorf("FormatAge(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
