package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Repository loads and saves the schedule as a unit.
type Repository struct {
	db  *DB
	now func() time.Time
}

// NewRepository creates a Repository over db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Load reads the stored schedule for a controller with zoneCount zones.
// Duration lists and zone names are padded or truncated to zoneCount so a
// change of relay board does not discard the schedule. Returns ErrNotFound
// when no cycles have been saved.
func (r *Repository) Load(ctx context.Context, zoneCount int) (logic.Schedule, error) {
	s := logic.DefaultSchedule(zoneCount)

	rows, err := r.db.QueryContext(ctx, `SELECT idx, name, enabled, start_hour, start_minute,
		days_active, inter_zone_delay, zone_durations FROM cycles ORDER BY idx`)
	if err != nil {
		return logic.Schedule{}, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var (
			idx       int
			c         logic.Cycle
			durations string
		)
		if err := rows.Scan(&idx, &c.Name, &c.Enabled, &c.StartTime.Hour, &c.StartTime.Minute,
			&c.DaysActive, &c.InterZoneDelayMinutes, &durations); err != nil {
			return logic.Schedule{}, fmt.Errorf("scanning cycle: %w", err)
		}
		if err := json.Unmarshal([]byte(durations), &c.ZoneDurations); err != nil {
			return logic.Schedule{}, fmt.Errorf("decoding cycle %d durations: %w", idx, err)
		}
		c.ZoneDurations = resize(c.ZoneDurations, zoneCount)
		if err := s.SetCycle(idx, c); err != nil {
			return logic.Schedule{}, fmt.Errorf("stored cycle %d: %w", idx, err)
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return logic.Schedule{}, fmt.Errorf("iterating cycles: %w", err)
	}
	if found == 0 {
		return logic.Schedule{}, ErrNotFound
	}

	names, err := r.loadZoneNames(ctx, zoneCount)
	if err != nil {
		return logic.Schedule{}, err
	}
	for i, n := range names {
		if n != "" {
			s.ZoneNames[i] = n
		}
	}
	return s, nil
}

func (r *Repository) loadZoneNames(ctx context.Context, zoneCount int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT idx, name FROM zones WHERE idx < ? ORDER BY idx", zoneCount)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	names := make([]string, zoneCount)
	for rows.Next() {
		var (
			idx  int
			name string
		)
		if err := rows.Scan(&idx, &name); err != nil {
			return nil, fmt.Errorf("scanning zone: %w", err)
		}
		names[idx] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zones: %w", err)
	}
	return names, nil
}

// Save replaces the stored schedule in one transaction.
func (r *Repository) Save(ctx context.Context, s logic.Schedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	ts := r.now().UTC().Format(time.RFC3339)
	for i, c := range s.Cycles {
		durations, err := json.Marshal(c.ZoneDurations)
		if err != nil {
			return fmt.Errorf("encoding cycle %d durations: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cycles
			(idx, name, enabled, start_hour, start_minute, days_active, inter_zone_delay, zone_durations, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(idx) DO UPDATE SET
				name = excluded.name,
				enabled = excluded.enabled,
				start_hour = excluded.start_hour,
				start_minute = excluded.start_minute,
				days_active = excluded.days_active,
				inter_zone_delay = excluded.inter_zone_delay,
				zone_durations = excluded.zone_durations,
				updated_at = excluded.updated_at`,
			i, c.Name, c.Enabled, c.StartTime.Hour, c.StartTime.Minute,
			uint8(c.DaysActive), c.InterZoneDelayMinutes, string(durations), ts); err != nil {
			return fmt.Errorf("saving cycle %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM zones"); err != nil {
		return fmt.Errorf("clearing zones: %w", err)
	}
	for i, name := range s.ZoneNames {
		if _, err := tx.ExecContext(ctx, "INSERT INTO zones (idx, name) VALUES (?, ?)", i, name); err != nil {
			return fmt.Errorf("saving zone %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schedule: %w", err)
	}
	return nil
}

// LogEvent appends a run event to the run log. Only run lifecycle events are
// stored; zone-level transitions are left to MQTT and InfluxDB.
func (r *Repository) LogEvent(ctx context.Context, e logic.Event) error {
	switch e.Type {
	case logic.EventRunStarted, logic.EventRunCompleted, logic.EventRunStopped:
	default:
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO run_log
		(run_id, event, op, cycle_idx, zone_idx, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, string(e.Type), e.Op.String(), nullIndex(e.Cycle), nullIndex(e.Zone),
		r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("logging run event: %w", err)
	}
	return nil
}

// RunLogEntry is one row of the run log.
type RunLogEntry struct {
	RunID      string `json:"run_id"`
	Event      string `json:"event"`
	Op         string `json:"op"`
	Cycle      *int   `json:"cycle,omitempty"`
	Zone       *int   `json:"zone,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// RecentRuns returns the newest run log entries, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, event, op, cycle_idx, zone_idx, recorded_at
		FROM run_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run log: %w", err)
	}
	defer rows.Close()

	var out []RunLogEntry
	for rows.Next() {
		var (
			e           RunLogEntry
			cycle, zone *int
		)
		if err := rows.Scan(&e.RunID, &e.Event, &e.Op, &cycle, &zone, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning run log: %w", err)
		}
		e.Cycle, e.Zone = cycle, zone
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIndex(i int) any {
	if i < 0 {
		return nil
	}
	return i
}

func resize(d []uint16, n int) []uint16 {
	out := make([]uint16, n)
	copy(out, d)
	return out
}
