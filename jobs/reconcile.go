package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/bookkeeper/internal/inventory"
	jobmetrics "github.com/odyssey-erp/bookkeeper/internal/jobs"
	"github.com/odyssey-erp/bookkeeper/internal/journal"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Catalog enumerates what a reconciliation walks.
type Catalog interface {
	LedgerIDs(ctx context.Context) ([]int64, error)
	ItemIDs(ctx context.Context) ([]int64, error)
}

// Finding is one ledger or item whose stored value disagrees with its history.
type Finding struct {
	Subject string `json:"subject"`
	ID      int64  `json:"id"`
	Check   string `json:"check"`
	Detail  string `json:"detail"`
}

// Report summarises a reconciliation run.
type Report struct {
	Scope   Scope     `json:"scope"`
	Ledgers int       `json:"ledgers"`
	Items   int       `json:"items"`
	Drift   []Finding `json:"drift"`
	Skipped bool      `json:"skipped,omitempty"`
}

// Reconciler recomputes every ledger balance from its opening balance and
// entries and every item stock from its movements. It only reads.
type Reconciler struct {
	catalog     Catalog
	statements  *journal.Service
	stock       *inventory.Service
	locker      *redislock.Client
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	concurrency int
	lockTTL     time.Duration
}

// ReconcilerConfig groups the reconciler's dependencies. Locker may be nil
// for single-process deployments.
type ReconcilerConfig struct {
	Catalog     Catalog
	Statements  *journal.Service
	Stock       *inventory.Service
	Locker      *redislock.Client
	Metrics     *jobmetrics.Metrics
	Logger      *slog.Logger
	Concurrency int
	LockTTL     time.Duration
}

// NewReconciler constructs Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Reconciler{
		catalog:     cfg.Catalog,
		statements:  cfg.Statements,
		stock:       cfg.Stock,
		locker:      cfg.Locker,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		lockTTL:     cfg.LockTTL,
	}
}

// HandleTask processes TaskReconcile tasks.
func (r *Reconciler) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("jobs: decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := r.Run(ctx, payload.Scope)
	return err
}

// Run executes one reconciliation. When another runner holds the lock the
// run is skipped.
func (r *Reconciler) Run(ctx context.Context, scope Scope) (Report, error) {
	if scope == "" {
		scope = ScopeAll
	}
	if !scope.valid() {
		return Report{}, shared.Invalid("scope", "unknown reconcile scope %q", scope)
	}
	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, shared.ReconcileLockKey(string(scope)), r.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			r.metrics.Skipped(TaskReconcile)
			r.logger.Info("reconcile skipped, lock held elsewhere", slog.String("scope", string(scope)))
			return Report{Scope: scope, Skipped: true}, nil
		}
		if err != nil {
			return Report{}, fmt.Errorf("jobs: obtain reconcile lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tracker := r.metrics.Track(TaskReconcile)
	report, err := r.reconcile(ctx, scope)
	if err := tracker.End(err); err != nil {
		r.logger.Error("reconcile failed", slog.String("scope", string(scope)), slog.Any("error", err))
		return Report{}, err
	}

	byCheck := make(map[string]int)
	for _, f := range report.Drift {
		byCheck[f.Check]++
		r.logger.Warn("reconcile drift",
			slog.String("subject", f.Subject),
			slog.Int64("id", f.ID),
			slog.String("check", f.Check),
			slog.String("detail", f.Detail),
		)
	}
	for check, n := range byCheck {
		r.metrics.AddDrift(check, n)
	}
	r.logger.Info("reconcile finished",
		slog.String("scope", string(scope)),
		slog.Int("ledgers", report.Ledgers),
		slog.Int("items", report.Items),
		slog.Int("drift", len(report.Drift)),
	)
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, scope Scope) (Report, error) {
	report := Report{Scope: scope, Drift: []Finding{}}
	var mu sync.Mutex
	record := func(subject string, id int64, err error) error {
		var ce *shared.ConsistencyError
		if !errors.As(err, &ce) {
			return fmt.Errorf("jobs: reconcile %s %d: %w", subject, id, err)
		}
		mu.Lock()
		report.Drift = append(report.Drift, Finding{Subject: subject, ID: id, Check: ce.Check, Detail: ce.Detail})
		mu.Unlock()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	if scope == ScopeAll || scope == ScopeLedgers {
		ids, err := r.catalog.LedgerIDs(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("jobs: list ledgers: %w", err)
		}
		report.Ledgers = len(ids)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := r.statements.Statement(gctx, id); err != nil {
					return record("ledger", id, err)
				}
				return nil
			})
		}
	}
	if scope == ScopeAll || scope == ScopeItems {
		ids, err := r.catalog.ItemIDs(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("jobs: list items: %w", err)
		}
		report.Items = len(ids)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := r.stock.Card(gctx, id); err != nil {
					return record("item", id, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.Slice(report.Drift, func(i, j int) bool {
		a, b := report.Drift[i], report.Drift[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.ID < b.ID
	})
	return report, nil
}
