package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/rollup/internal/shared"
)

// DayResult is the outcome of one day of a rebuild.
type DayResult struct {
	Date  string     `json:"date"`
	OK    bool       `json:"ok"`
	Run   *RunResult `json:"run,omitempty"`
	Error string     `json:"error,omitempty"`
}

// RebuildResult summarises a range rebuild.
type RebuildResult struct {
	TenantID  int64       `json:"tenant_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Total     int         `json:"total"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Cancelled bool        `json:"cancelled"`
	Details   []DayResult `json:"details"`
}

// ErrInvalidRange is returned when the range ends before it starts.
var ErrInvalidRange = errors.New("orchestrator: end date before start date")

// RebuildRange runs one full pass per calendar day from start to end inclusive.
// A failing day does not stop the range. Cancellation is honoured between days.
func (o *Orchestrator) RebuildRange(ctx context.Context, tenantID int64, start, end time.Time, syncToParents bool) (RebuildResult, error) {
	start, end = shared.Day(start), shared.Day(end)
	if end.Before(start) {
		return RebuildResult{}, ErrInvalidRange
	}
	res := RebuildResult{
		TenantID: tenantID,
		From:     start.Format(time.DateOnly),
		To:       end.Format(time.DateOnly),
		Details:  []DayResult{},
	}
	opts := Options{SyncToParent: syncToParents}
	for _, day := range shared.EachDay(start, end) {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			break
		}
		res.Total++
		detail := DayResult{Date: day.Format(time.DateOnly)}
		run, err := o.Run(ctx, tenantID, day, opts)
		switch {
		case err != nil:
			detail.Error = err.Error()
		case run.Failed():
			detail.Run = &run
			detail.Error = run.Error
		default:
			detail.Run = &run
			detail.OK = true
		}
		if detail.OK {
			res.Success++
		} else {
			res.Failed++
		}
		res.Details = append(res.Details, detail)
	}
	o.logger.Info("rollup rebuild finished",
		slog.Int64("tenant_id", tenantID),
		slog.String("from", res.From),
		slog.String("to", res.To),
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
		slog.Bool("cancelled", res.Cancelled),
	)
	return res, nil
}
