package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/jobs"
)

type stubRebuilder struct {
	failed []string
	calls  int
}

func (s *stubRebuilder) RebuildRange(_ context.Context, tenantID int64, start, end time.Time, _ bool) (orchestrator.RebuildResult, error) {
	s.calls++
	if end.Before(start) {
		return orchestrator.RebuildResult{}, orchestrator.ErrInvalidRange
	}
	res := orchestrator.RebuildResult{TenantID: tenantID, From: start.Format(time.DateOnly), To: end.Format(time.DateOnly)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format(time.DateOnly)
		res.Total++
		detail := orchestrator.DayResult{Date: day, OK: true}
		for _, f := range s.failed {
			if f == day {
				detail = orchestrator.DayResult{Date: day, Error: "boom"}
			}
		}
		if detail.OK {
			res.Success++
		} else {
			res.Failed++
		}
		res.Details = append(res.Details, detail)
	}
	return res, nil
}

func TestRebuildCommandJSONSuccess(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := RebuildCommand(context.Background(), &stubRebuilder{}, RebuildOptions{
		TenantID:   3,
		From:       "2024-01-01",
		To:         "2024-01-03",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, code)
	require.Empty(t, stderr.String())

	var res orchestrator.RebuildResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	require.Equal(t, 3, res.Total)
	require.Equal(t, 3, res.Success)
}

func TestRebuildCommandSingleDayDefault(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := RebuildCommand(context.Background(), &stubRebuilder{}, RebuildOptions{TenantID: 3, From: "2024-01-01", Stdout: stdout})
	require.Zero(t, code)
	require.Contains(t, stdout.String(), "tenant 3 2024-01-01..2024-01-01: 1/1 days ok")
}

func TestRebuildCommandReportsFailedDays(t *testing.T) {
	stdout := new(bytes.Buffer)
	code := RebuildCommand(context.Background(), &stubRebuilder{failed: []string{"2024-01-02"}}, RebuildOptions{
		TenantID: 3,
		From:     "2024-01-01",
		To:       "2024-01-03",
		Stdout:   stdout,
	})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "2/3 days ok")
	require.Contains(t, stdout.String(), "2024-01-02 failed: boom")
}

func TestRebuildCommandInvalidInput(t *testing.T) {
	r := &stubRebuilder{}
	cases := []RebuildOptions{
		{From: "2024-01-01"},
		{TenantID: 1, From: "20240101"},
		{TenantID: 1, From: "2024-01-01", To: "tomorrow"},
		{TenantID: 1, From: "2024-01-05", To: "2024-01-01"},
	}
	for _, opts := range cases {
		stderr := new(bytes.Buffer)
		opts.Stdout = new(bytes.Buffer)
		opts.Stderr = stderr
		require.Equal(t, 1, RebuildCommand(context.Background(), r, opts))
		require.Contains(t, stderr.String(), "rebuild:")
	}
	require.Equal(t, 1, r.calls)
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskRollupDaily, TriggerOptions{Interval: "hourly", Sync: true})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskRollupDaily, task.Type())
	require.JSONEq(t, `{"interval":"hourly","sync":true}`, string(task.Payload()))

	task, err = BuildTask(jobs.TaskRollupRebuild, TriggerOptions{TenantID: 2, From: "2024-01-01", To: "2024-01-02"})
	require.NoError(t, err)
	require.JSONEq(t, `{"tenant_id":2,"from":"2024-01-01","to":"2024-01-02","sync":false}`, string(task.Payload()))

	_, err = BuildTask(jobs.TaskRollupRebuild, TriggerOptions{TenantID: 2})
	require.Error(t, err)
	_, err = BuildTask("email:send", TriggerOptions{})
	require.Error(t, err)
}

func TestJobsCLIWithoutClient(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskRollupDaily, TriggerOptions{})
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
