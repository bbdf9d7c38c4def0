package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "data", "irrigation.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("applied %d migrations, want 2", n)
	}

	// Re-running is a no-op.
	if err := db.migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		t.Error(err)
	}
}

func TestLoadEmpty(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	if _, err := repo.Load(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	s := logic.DefaultSchedule(3)
	s.Cycles[1] = logic.Cycle{
		Name:                  "Evening",
		Enabled:               true,
		StartTime:             logic.TimeOfDay{Hour: 19, Minute: 45},
		DaysActive:            logic.Saturday | logic.Sunday,
		InterZoneDelayMinutes: 2,
		ZoneDurations:         []uint16{10, 0, 120},
	}
	s.ZoneNames = []string{"Lawn", "Beds", "Veg"}

	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving twice upserts.
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := repo.Load(ctx, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := got.Cycles[1]
	if c.Name != "Evening" || !c.Enabled || c.StartTime.String() != "19:45" ||
		c.DaysActive != logic.Saturday|logic.Sunday || c.InterZoneDelayMinutes != 2 {
		t.Errorf("cycle = %+v", c)
	}
	if len(c.ZoneDurations) != 3 || c.ZoneDurations[2] != 120 {
		t.Errorf("durations = %v", c.ZoneDurations)
	}
	if got.ZoneName(2) != "Veg" {
		t.Errorf("zone names = %v", got.ZoneNames)
	}
	if got.Cycles[2].Enabled {
		t.Error("cycle C should be disabled")
	}
}

func TestLoadResizesZones(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	s := logic.DefaultSchedule(3)
	s.ZoneNames = []string{"a", "b", "c"}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	grown, err := repo.Load(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(grown.Cycles[0].ZoneDurations) != 5 || grown.Cycles[0].ZoneDurations[4] != 0 {
		t.Errorf("durations = %v", grown.Cycles[0].ZoneDurations)
	}
	if grown.ZoneName(2) != "c" || grown.ZoneName(4) != "Zone 5" {
		t.Errorf("names = %v", grown.ZoneNames)
	}

	shrunk, err := repo.Load(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(shrunk.Cycles[0].ZoneDurations) != 2 || shrunk.ZoneCount() != 2 {
		t.Errorf("shrunk = %+v", shrunk)
	}
}

func TestRunLog(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	repo.now = func() time.Time { return time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	events := []logic.Event{
		{Type: logic.EventRunStarted, Op: logic.OpScheduledCycle, RunID: "r1", Cycle: 0, Zone: 0},
		{Type: logic.EventZoneOn, Op: logic.OpScheduledCycle, RunID: "r1", Cycle: 0, Zone: 0},
		{Type: logic.EventRunCompleted, Op: logic.OpScheduledCycle, RunID: "r1", Cycle: 0, Zone: -1},
	}
	for _, e := range events {
		if err := repo.LogEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := repo.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d entries, want 2 (zone events are not logged)", len(runs))
	}
	if runs[0].Event != "RUN_COMPLETED" || runs[0].Zone != nil {
		t.Errorf("newest = %+v", runs[0])
	}
	if runs[1].Cycle == nil || *runs[1].Cycle != 0 || runs[1].Op != "OP_SCHEDULED_CYCLE" {
		t.Errorf("oldest = %+v", runs[1])
	}
	if runs[1].RecordedAt != "2026-05-01T06:00:00Z" {
		t.Errorf("recorded_at = %q", runs[1].RecordedAt)
	}
}
