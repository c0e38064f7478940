package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/rollup/internal/orchestrator"
	"github.com/odyssey-erp/rollup/internal/shared"
)

// Rebuilder replays a date range for one tenant.
type Rebuilder interface {
	RebuildRange(ctx context.Context, tenantID int64, start, end time.Time, syncToParents bool) (orchestrator.RebuildResult, error)
}

// RebuildOptions defines the flags of the rebuild command.
type RebuildOptions struct {
	TenantID   int64
	From       string
	To         string
	Sync       bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RebuildCommand runs the range and prints the summary. It returns 0 when every
// day succeeded, 10 when some days failed or the run was cancelled and 1 on
// invalid input or a range that could not start.
func RebuildCommand(ctx context.Context, r Rebuilder, opts RebuildOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.TenantID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "rebuild: --tenant is required and must be positive")
		return 1
	}
	from, err := shared.ParseDay(opts.From)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rebuild: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return 1
	}
	to := from
	if opts.To != "" {
		if to, err = shared.ParseDay(opts.To); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rebuild: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
			return 1
		}
	}
	res, err := r.RebuildRange(ctx, opts.TenantID, from, to, opts.Sync)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rebuild: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rebuild: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRebuildHuman(opts.Stdout, res)
	}
	if res.Failed > 0 || res.Cancelled {
		return 10
	}
	return 0
}

func renderRebuildHuman(w io.Writer, res orchestrator.RebuildResult) {
	_, _ = fmt.Fprintf(w, "tenant %d %s..%s: %d/%d days ok\n", res.TenantID, res.From, res.To, res.Success, res.Total)
	for _, d := range res.Details {
		if d.OK {
			continue
		}
		_, _ = fmt.Fprintf(w, "  %s failed: %s\n", d.Date, d.Error)
	}
	if res.Cancelled {
		_, _ = fmt.Fprintln(w, "  cancelled before the end of the range")
	}
}
