package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/sweeney/irrigation-controller/internal/control"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/status"
)

const (
	maxBodyBytes   = 4096
	submitTimeout  = 5 * time.Second
	defaultRunsMax = 50
)

// CycleRequest is the body of POST /api/cycle. A missing name keeps the
// current one.
type CycleRequest struct {
	CycleIndex     int             `json:"cycleIndex"`
	Name           *string         `json:"name"`
	Enabled        bool            `json:"enabled"`
	StartTime      logic.TimeOfDay `json:"startTime"`
	DaysActive     logic.DayMask   `json:"daysActive"`
	InterZoneDelay uint8           `json:"interZoneDelay"`
	ZoneDurations  []uint16        `json:"zoneDurations"`
}

// ZoneNamesJSON is the body of GET and POST /api/zonenames.
type ZoneNamesJSON struct {
	ZoneNames []string `json:"zoneNames"`
}

// HistoryJSON is the response of GET /api/history.
type HistoryJSON struct {
	Count   int                  `json:"count"`
	History []logic.HistoryEntry `json:"history"`
}

// ResultJSON acknowledges a mutation.
type ResultJSON struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", logic.ErrInvalidArgument, err)
	}
	return data, nil
}

// fail maps an error to a status code: bad input is 400, a stopped loop
// is 503, anything else is 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, logic.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, control.ErrQueueClosed), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, ResultJSON{Error: err.Error()})
}

func (s *Server) submit(r *http.Request, name string, fn control.Func) error {
	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	err := s.deps.Queue.Submit(ctx, name, fn)
	s.deps.Metrics.Command(name, err)
	return err
}

// edit applies a schedule change on the loop and commits the resulting
// schedule. Edits are serialised so a slow Save cannot overwrite a newer one.
func (s *Server) edit(r *http.Request, name string, fn func(e *logic.Engine, nowMs uint32, out *logic.Schedule) error) (logic.Schedule, error) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	var out logic.Schedule
	err := s.submit(r, name, func(e *logic.Engine, nowMs uint32) error {
		return fn(e, nowMs, &out)
	})
	if err != nil {
		return logic.Schedule{}, err
	}
	return out, s.commit(r, out)
}

// commit persists an accepted schedule and publishes it to the tracker.
func (s *Server) commit(r *http.Request, sched logic.Schedule) error {
	s.deps.Tracker.SetSchedule(sched)
	if s.deps.Saver == nil {
		return nil
	}
	if err := s.deps.Saver.Save(r.Context(), sched); err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}
	return nil
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatCycles(snap.Schedule))
}

func (s *Server) handleSetCycle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req CycleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, fmt.Errorf("%w: invalid JSON: %v", logic.ErrInvalidArgument, err))
		return
	}
	idx := req.CycleIndex
	if idx < 0 || idx >= logic.NumCycles {
		s.fail(w, fmt.Errorf("%w: cycle %d out of range 0..%d", logic.ErrInvalidArgument, idx, logic.NumCycles-1))
		return
	}
	c := logic.Cycle{
		Enabled:               req.Enabled,
		StartTime:             req.StartTime,
		DaysActive:            req.DaysActive,
		InterZoneDelayMinutes: req.InterZoneDelay,
		ZoneDurations:         req.ZoneDurations,
	}
	if req.Name != nil {
		c.Name = *req.Name
	}

	out, err := s.edit(r, "set_cycle", func(e *logic.Engine, nowMs uint32, out *logic.Schedule) error {
		if req.Name == nil {
			c.Name = e.Schedule().Cycles[idx].Name
		}
		return control.SetCycle(idx, c, out)(e, nowMs)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info().Int("cycle", idx).Str("name", out.Cycles[idx].Name).Msg("cycle updated")
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatCycles(out))
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	req, err := control.ParseManual(body)
	if err != nil {
		s.fail(w, err)
		return
	}
	snap := s.deps.Tracker.Snapshot()
	name, fn, err := req.Resolve(snap.Schedule.ZoneCount())
	if err == nil {
		err = s.submit(r, name, fn)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info().Str("action", name).Int("zone", req.Zone).Int("duration", req.Duration).Int("cycle", req.Cycle).Msg("manual command")
	writeJSON(w, http.StatusOK, ResultJSON{OK: true})
}

func (s *Server) handleZoneNames(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	writeJSON(w, http.StatusOK, ZoneNamesJSON{ZoneNames: snap.Schedule.ZoneNames})
}

func (s *Server) handleSetZoneNames(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req ZoneNamesJSON
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, fmt.Errorf("%w: invalid JSON: %v", logic.ErrInvalidArgument, err))
		return
	}
	out, err := s.edit(r, "set_zone_names", func(e *logic.Engine, nowMs uint32, out *logic.Schedule) error {
		return control.SetZoneNames(req.ZoneNames, out)(e, nowMs)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ZoneNamesJSON{ZoneNames: out.ZoneNames})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.fail(w, fmt.Errorf("%w: since must be epoch milliseconds", logic.ErrInvalidArgument))
			return
		}
		since = n
	}
	snap := s.deps.Tracker.Snapshot()
	entries := slices.Collect(snap.Trace.Since(since))
	if entries == nil {
		entries = []logic.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryJSON{Count: len(entries), History: entries})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		http.NotFound(w, r)
		return
	}
	limit := defaultRunsMax
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.fail(w, fmt.Errorf("%w: limit must be 1..1000", logic.ErrInvalidArgument))
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
