package control

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Manual actions accepted by POST /api/manual and the MQTT command topic.
const (
	ActionStartZone  = "start_zone"
	ActionStartCycle = "start_cycle"
	ActionStopAll    = "stop_all"
)

// ManualRequest is the wire form of a manual command. Zone is 1-based and
// Duration is in minutes.
type ManualRequest struct {
	Action   string `json:"action"`
	Zone     int    `json:"zone,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Cycle    int    `json:"cycle,omitempty"`
}

// ParseManual decodes a manual command.
func ParseManual(data []byte) (ManualRequest, error) {
	var m ManualRequest
	if err := json.Unmarshal(data, &m); err != nil {
		return ManualRequest{}, fmt.Errorf("%w: invalid JSON: %v", logic.ErrInvalidArgument, err)
	}
	return m, nil
}

// Resolve validates the request against the zone count and returns the
// queue entry that applies it.
func (m ManualRequest) Resolve(zoneCount int) (string, Func, error) {
	switch m.Action {
	case ActionStartZone:
		if m.Zone < 1 || m.Zone > zoneCount {
			return "", nil, fmt.Errorf("%w: zone %d out of range 1..%d", logic.ErrInvalidArgument, m.Zone, zoneCount)
		}
		if m.Duration < 1 || m.Duration > logic.MaxZoneDurationMinutes {
			return "", nil, fmt.Errorf("%w: duration %d out of range 1..%d", logic.ErrInvalidArgument, m.Duration, logic.MaxZoneDurationMinutes)
		}
		return m.Action, StartZone(m.Zone-1, uint16(m.Duration)), nil
	case ActionStartCycle:
		if m.Cycle < 0 || m.Cycle >= logic.NumCycles {
			return "", nil, fmt.Errorf("%w: cycle %d out of range 0..%d", logic.ErrInvalidArgument, m.Cycle, logic.NumCycles-1)
		}
		return m.Action, StartCycle(m.Cycle), nil
	case ActionStopAll:
		return m.Action, StopAll(), nil
	default:
		return "", nil, fmt.Errorf("%w: unknown action %q", logic.ErrInvalidArgument, m.Action)
	}
}
