package checks

import (
	"context"
	"time"

	"github.com/charlesng35/seatkeeper/internal/app/maintenance"
	"github.com/charlesng35/seatkeeper/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// RunStater exposes the housekeeping run history.
type RunStater interface {
	State() maintenance.RunState
}

// Maintenance degrades when housekeeping has gone stale and fails after repeated errors.
func Maintenance(cleaner RunStater, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if cleaner == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		state := cleaner.State()
		switch {
		case state.TotalRuns == 0:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first run"}
		case state.ConsecutiveFailures > 1:
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: state.LastError}
		case state.ConsecutiveFailures == 1:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: state.LastError}
		case now().Sub(state.LastRunAt) > maxAge:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "stale run " + state.LastRunAt.UTC().Format(time.RFC3339),
			}
		default:
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
	})
}
