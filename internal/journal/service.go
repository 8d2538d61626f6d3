package journal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

// Store is the transaction-scoped journal persistence port.
type Store interface {
	InsertEntries(ctx context.Context, entries []Entry) ([]Entry, error)
	ListEntries(ctx context.Context, ref Ref) ([]Entry, error)
	// DeleteEntries removes the rows of ref and returns exactly the rows removed.
	DeleteEntries(ctx context.Context, ref Ref) ([]Entry, error)
	ListLedgerEntries(ctx context.Context, ledgerID int64) ([]Entry, error)
}

// Reader is what a statement needs from a transaction.
type Reader interface {
	GetLedger(ctx context.Context, id int64) (ledger.Ledger, error)
	ListLedgerEntries(ctx context.Context, ledgerID int64) ([]Entry, error)
}

// RepositoryPort opens read transactions for statements.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Reader) error) error
}

// StatementLine is an entry with the running balance after it.
type StatementLine struct {
	Entry
	Balance decimal.Decimal `json:"balance"`
}

// Statement lists a ledger's entries in posting order.
type Statement struct {
	Ledger ledger.Ledger   `json:"ledger"`
	Lines  []StatementLine `json:"lines"`
}

// Service serves journal read models.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Statement returns the running-balance view of a ledger and checks that
// the opening balance plus all entries matches the stored balance.
func (s *Service) Statement(ctx context.Context, ledgerID int64) (Statement, error) {
	var st Statement
	err := s.repo.WithTx(ctx, func(ctx context.Context, r Reader) error {
		l, err := r.GetLedger(ctx, ledgerID)
		if err != nil {
			return err
		}
		entries, err := r.ListLedgerEntries(ctx, ledgerID)
		if err != nil {
			return err
		}
		st = BuildStatement(l, entries)
		return nil
	})
	if err != nil {
		return Statement{}, err
	}
	final := st.Ledger.OpeningBalance
	if n := len(st.Lines); n > 0 {
		final = st.Lines[n-1].Balance
	}
	if !final.Equal(st.Ledger.CurrentBalance) {
		return st, shared.Inconsistent("ledger_balance", "ledger %d stored %s, recomputed %s",
			ledgerID, st.Ledger.CurrentBalance, final)
	}
	return st, nil
}

// BuildStatement computes running balances from the opening balance.
func BuildStatement(l ledger.Ledger, entries []Entry) Statement {
	running := l.OpeningBalance
	lines := make([]StatementLine, 0, len(entries))
	for _, e := range entries {
		running = running.Add(l.Signed(e.Debit, e.Credit))
		lines = append(lines, StatementLine{Entry: e, Balance: running})
	}
	return Statement{Ledger: l, Lines: lines}
}
