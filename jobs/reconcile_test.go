package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	jobmetrics "github.com/odyssey-erp/bookkeeper/internal/jobs"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/posting"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
	"github.com/odyssey-erp/bookkeeper/internal/store/memory"
)

type seededStore struct {
	*memory.Store
	ledger int64
	item   int64
}

func newSeededStore(t *testing.T) seededStore {
	t.Helper()
	store := memory.New()
	out := seededStore{Store: store}
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx posting.Tx) error {
		row, err := ledger.NewLedger{Name: "Cash", Type: ledger.TypeCash, OpeningBalance: decimal.NewFromInt(100)}.Build(now)
		if err != nil {
			return err
		}
		l, err := tx.Ledgers().CreateLedger(ctx, row)
		if err != nil {
			return err
		}
		row, err = ledger.NewLedger{Name: "Sales", Type: ledger.TypeSales}.Build(now)
		if err != nil {
			return err
		}
		if _, err := tx.Ledgers().CreateLedger(ctx, row); err != nil {
			return err
		}
		item, err := inventory.CreateItem(ctx, tx.Stock(), "Item A", decimal.NewFromInt(5), now)
		out.ledger, out.item = l.ID, item.ID
		return err
	})
	require.NoError(t, err)
	return out
}

func newReconciler(s seededStore, locker *redislock.Client, metrics *jobmetrics.Metrics) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Catalog:     s,
		Statements:  journal.NewService(s.Journal()),
		Stock:       inventory.NewService(s.Stock()),
		Locker:      locker,
		Metrics:     metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Concurrency: 2,
	})
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

// ==========================================================================
// Reconciliation
// ==========================================================================

func TestReconcileCleanBooks(t *testing.T) {
	s := newSeededStore(t)
	report, err := newReconciler(s, nil, nil).Run(context.Background(), ScopeAll)
	require.NoError(t, err)
	require.Equal(t, 2, report.Ledgers)
	require.Equal(t, 1, report.Items)
	require.Empty(t, report.Drift)
}

func TestReconcileReportsDriftWithoutRepairing(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)
	err := s.WithTx(ctx, func(ctx context.Context, tx posting.Tx) error {
		if _, err := tx.Ledgers().AddToBalance(ctx, s.ledger, decimal.NewFromInt(7)); err != nil {
			return err
		}
		return tx.Stock().SetStock(ctx, s.item, decimal.NewFromInt(9))
	})
	require.NoError(t, err)

	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	report, err := newReconciler(s, nil, metrics).Run(ctx, ScopeAll)
	require.NoError(t, err)
	require.Len(t, report.Drift, 2)
	require.Equal(t, Finding{Subject: "item", ID: s.item, Check: "stock_sum", Detail: report.Drift[0].Detail}, report.Drift[0])
	require.Equal(t, "ledger", report.Drift[1].Subject)
	require.Equal(t, "ledger_balance", report.Drift[1].Check)

	l, err := ledger.NewService(s.Ledgers(), nil, nil).Get(ctx, s.ledger)
	require.NoError(t, err)
	require.True(t, l.CurrentBalance.Equal(decimal.NewFromInt(107)), "reconcile must not repair")

	only, err := newReconciler(s, nil, nil).Run(ctx, ScopeLedgers)
	require.NoError(t, err)
	require.Zero(t, only.Items)
	require.Len(t, only.Drift, 1)
}

func TestReconcileSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	s := newSeededStore(t)
	locker := newLocker(t)

	held, err := locker.Obtain(ctx, shared.ReconcileLockKey(string(ScopeAll)), time.Minute, nil)
	require.NoError(t, err)

	report, err := newReconciler(s, locker, nil).Run(ctx, ScopeAll)
	require.NoError(t, err)
	require.True(t, report.Skipped)

	require.NoError(t, held.Release(ctx))
	report, err = newReconciler(s, locker, nil).Run(ctx, ScopeAll)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, 2, report.Ledgers)
}

func TestReconcileRejectsUnknownScope(t *testing.T) {
	_, err := newReconciler(newSeededStore(t), nil, nil).Run(context.Background(), Scope("everything"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NewReconcileTask(Scope("everything"))
	require.Error(t, err)
}

func TestHandleTaskDecodesPayload(t *testing.T) {
	s := newSeededStore(t)
	r := newReconciler(s, nil, nil)

	task, err := NewReconcileTask("")
	require.NoError(t, err)
	require.Equal(t, TaskReconcile, task.Type())
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, ScopeAll, payload.Scope)
	require.NoError(t, r.HandleTask(context.Background(), task))

	err = r.HandleTask(context.Background(), asynq.NewTask(TaskReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

// ==========================================================================
// HTTP
// ==========================================================================

type fakeEnqueuer struct {
	scopes []Scope
}

func (f *fakeEnqueuer) EnqueueReconcile(ctx context.Context, scope Scope) (*asynq.TaskInfo, error) {
	f.scopes = append(f.scopes, scope)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 3}, nil
}

func TestHandlerEnqueuesReconcile(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := chi.NewRouter()
	NewHandler(fakeInspector{}, enq, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconcile?scope=items", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []Scope{ScopeItems}, enq.scopes)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/reconcile?scope=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":3}`, rr.Body.String())
}

func TestDriftMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := jobmetrics.NewMetrics(reg)
	m.AddDrift("ledger_balance", 2)
	m.AddDrift("ledger_balance", 0)
	require.Equal(t, 1, testutil.CollectAndCount(reg, "bookkeeper_reconcile_drift_total"))
}
