package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/seatkeeper/internal/app/maintenance"
	"github.com/charlesng35/seatkeeper/internal/monitoring"
	"github.com/charlesng35/seatkeeper/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "redis", report.Checks[1].Component)

	live := manager.EvaluateLiveness(context.Background())
	require.True(t, live.Success)
	require.Empty(t, live.Checks)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, "broken", report.Checks[0].Component)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestResultFromErrorDegradesOnTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, monitoring.ResultFromError("db", nil, time.Millisecond).Status)
	require.Equal(t, monitoring.StatusDegraded, monitoring.ResultFromError("db", context.DeadlineExceeded, 0).Status)
	require.Equal(t, monitoring.StatusDown, monitoring.ResultFromError("db", errors.New("refused"), 0).Status)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestDatabaseCheck(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitoring.StatusUp, checks.Database(pinger{}, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, checks.Database(pinger{err: errors.New("gone")}, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDown, checks.Database(nil, 0).Run(context.Background()).Status)
}

type runState maintenance.RunState

func (s runState) State() maintenance.RunState { return maintenance.RunState(s) }

func TestMaintenanceCheck(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cases := []struct {
		name  string
		state runState
		want  monitoring.ProbeStatus
	}{
		{"never ran", runState{}, monitoring.StatusUp},
		{"fresh", runState{TotalRuns: 3, LastRunAt: now.Add(-time.Hour)}, monitoring.StatusUp},
		{"stale", runState{TotalRuns: 3, LastRunAt: now.Add(-7 * time.Hour)}, monitoring.StatusDegraded},
		{"one failure", runState{TotalRuns: 3, ConsecutiveFailures: 1, LastRunAt: now, LastError: "timeout"}, monitoring.StatusDegraded},
		{"repeated failures", runState{TotalRuns: 3, ConsecutiveFailures: 2, LastRunAt: now, LastError: "timeout"}, monitoring.StatusDown},
	}
	for _, tc := range cases {
		result := checks.Maintenance(tc.state, 0, clock).Run(context.Background())
		require.Equal(t, tc.want, result.Status, tc.name)
	}
}
