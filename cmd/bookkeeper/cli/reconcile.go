package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/bookkeeper/jobs"
)

// ExitDrift is returned when reconciliation found drift.
const ExitDrift = 10

// ReconcileRunner runs a reconciliation in-process.
type ReconcileRunner interface {
	Run(ctx context.Context, scope jobs.Scope) (jobs.Report, error)
}

// ReconcileOptions defines the flags of the reconcile command.
type ReconcileOptions struct {
	Scope      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileCommand runs a reconciliation and prints the findings. It exits
// 0 on clean books, ExitDrift on drift and 1 on failure.
func ReconcileCommand(ctx context.Context, runner ReconcileRunner, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	report, err := runner.Run(ctx, jobs.Scope(opts.Scope))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReport(opts.Stdout, report)
	}
	if len(report.Drift) > 0 {
		return ExitDrift
	}
	return 0
}

func renderReport(w io.Writer, report jobs.Report) {
	if report.Skipped {
		_, _ = fmt.Fprintln(w, "skipped: another reconciliation holds the lock")
		return
	}
	_, _ = fmt.Fprintf(w, "checked %d ledgers, %d items\n", report.Ledgers, report.Items)
	if len(report.Drift) == 0 {
		_, _ = fmt.Fprintln(w, "no drift")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SUBJECT\tID\tCHECK\tDETAIL")
	for _, f := range report.Drift {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Subject, f.ID, f.Check, f.Detail)
	}
	_ = tw.Flush()
}
