package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/jobs"
)

type stubRunner struct {
	report jobs.Report
	err    error
	scope  jobs.Scope
}

func (s *stubRunner) Run(ctx context.Context, scope jobs.Scope) (jobs.Report, error) {
	s.scope = scope
	return s.report, s.err
}

func TestReconcileCommandCleanBooks(t *testing.T) {
	runner := &stubRunner{report: jobs.Report{Scope: jobs.ScopeAll, Ledgers: 3, Items: 2}}
	stdout := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), runner, ReconcileOptions{Scope: "all", Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Equal(t, jobs.ScopeAll, runner.scope)
	require.Contains(t, stdout.String(), "checked 3 ledgers, 2 items")
	require.Contains(t, stdout.String(), "no drift")
}

func TestReconcileCommandDriftJSON(t *testing.T) {
	runner := &stubRunner{report: jobs.Report{
		Scope:   jobs.ScopeLedgers,
		Ledgers: 1,
		Drift:   []jobs.Finding{{Subject: "ledger", ID: 4, Check: "ledger_balance", Detail: "stored 7, recomputed 0"}},
	}}
	stdout := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), runner, ReconcileOptions{Scope: "ledgers", JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitDrift, code)

	var got jobs.Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	require.Equal(t, runner.report, got)
}

func TestReconcileCommandFailure(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), &stubRunner{err: errors.New("boom")}, ReconcileOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "reconcile: boom")
}
