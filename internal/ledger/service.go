package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort opens ledger-scoped transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// BalanceCache caches balances between postings.
type BalanceCache interface {
	Get(ctx context.Context, id int64) (decimal.Decimal, int64, bool, error)
	Set(ctx context.Context, id, version int64, balance decimal.Decimal) error
	Invalidate(ctx context.Context, ids ...int64) error
}

// Service exposes ledger reads and creation.
type Service struct {
	repo   RepositoryPort
	cache  BalanceCache
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache BalanceCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a new ledger with current balance equal to the opening balance.
func (s *Service) Create(ctx context.Context, in NewLedger) (Ledger, error) {
	row, err := in.Build(s.now())
	if err != nil {
		return Ledger{}, err
	}
	var created Ledger
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		created, err = store.CreateLedger(ctx, row)
		return err
	})
	if err != nil {
		return Ledger{}, err
	}
	s.logger.Info("ledger created", slog.Int64("ledger_id", created.ID), slog.String("type", string(created.Type)))
	return created, nil
}

// Get returns the ledger row.
func (s *Service) Get(ctx context.Context, id int64) (Ledger, error) {
	var l Ledger
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		l, err = store.GetLedger(ctx, id)
		return err
	})
	return l, err
}

// Balance returns the current balance, served from cache when possible.
func (s *Service) Balance(ctx context.Context, id int64) (decimal.Decimal, error) {
	var version int64
	if s.cache != nil {
		bal, ver, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("balance cache get", slog.Int64("ledger_id", id), slog.Any("error", err))
		} else if ok {
			return bal, nil
		}
		version = ver
	}
	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		l, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return l.CurrentBalance, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	bal := v.(decimal.Decimal)
	if s.cache != nil && version > 0 {
		if err := s.cache.Set(ctx, id, version, bal); err != nil {
			s.logger.Warn("balance cache set", slog.Int64("ledger_id", id), slog.Any("error", err))
		}
	}
	return bal, nil
}

// Invalidate drops cached balances after a commit touching the ledgers.
func (s *Service) Invalidate(ctx context.Context, ids ...int64) {
	if s == nil || s.cache == nil || len(ids) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("balance cache invalidate", slog.Any("ledger_ids", ids), slog.Any("error", err))
	}
}
