package journal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bookkeeper/internal/ledger"
	"github.com/odyssey-erp/bookkeeper/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildBalancedEntries(t *testing.T) {
	ref := Ref{Type: RefPurchase, ID: uuid.New()}
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	entries, err := Build(ref, date, "clerk", []Line{
		{LedgerID: 1, Debit: dec("15"), Narration: "Purchase PUR-2501-0001"},
		{LedgerID: 2, Credit: dec("15"), Narration: "Purchase PUR-2501-0001"},
		{LedgerID: 3},
	}, date)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, ref, e.Ref())
		require.Equal(t, "clerk", e.CreatedBy)
	}
	debit, credit := Totals(entries)
	require.True(t, debit.Equal(credit))
}

func TestBuildRejectsUnbalancedOrMalformedLines(t *testing.T) {
	ref := Ref{Type: RefSale, ID: uuid.New()}
	now := time.Now()

	cases := map[string][]Line{
		"unbalanced":  {{LedgerID: 1, Debit: dec("10")}, {LedgerID: 2, Credit: dec("9.99")}},
		"both sides":  {{LedgerID: 1, Debit: dec("10"), Credit: dec("10")}, {LedgerID: 2, Credit: dec("0")}},
		"negative":    {{LedgerID: 1, Debit: dec("-10")}, {LedgerID: 2, Credit: dec("-10")}},
		"no ledger":   {{Debit: dec("10")}, {LedgerID: 2, Credit: dec("10")}},
		"single line": {{LedgerID: 1, Debit: dec("10")}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(ref, now, "", lines, now)
			require.ErrorIs(t, err, shared.ErrConsistency)
		})
	}

	_, err := Build(Ref{Type: RefSale}, now, "", []Line{{LedgerID: 1, Debit: dec("1")}, {LedgerID: 2, Credit: dec("1")}}, now)
	require.ErrorIs(t, err, shared.ErrConsistency)
}

func TestBuildTruncatesNarration(t *testing.T) {
	ref := Ref{Type: RefJournal, ID: uuid.New()}
	long := strings.Repeat("é", MaxNarration+20)
	entries, err := Build(ref, time.Now(), "", []Line{
		{LedgerID: 1, Debit: dec("1"), Narration: long},
		{LedgerID: 2, Credit: dec("1")},
	}, time.Now())
	require.NoError(t, err)
	require.Equal(t, MaxNarration, len([]rune(entries[0].Narration)))
}

func TestInverseSwapsSides(t *testing.T) {
	entries := []Entry{{ID: 4, LedgerID: 1, Debit: dec("7")}, {ID: 5, LedgerID: 2, Credit: dec("7")}}
	inv := Inverse(entries)
	require.True(t, inv[0].Credit.Equal(dec("7")))
	require.True(t, inv[0].Debit.IsZero())
	require.True(t, inv[1].Debit.Equal(dec("7")))
	require.Equal(t, int64(4), inv[0].EntryID)
}

type statementRepo struct {
	l       ledger.Ledger
	entries []Entry
}

func (r statementRepo) WithTx(ctx context.Context, fn func(context.Context, Reader) error) error {
	return fn(ctx, r)
}

func (r statementRepo) GetLedger(ctx context.Context, id int64) (ledger.Ledger, error) {
	if id != r.l.ID {
		return ledger.Ledger{}, shared.NotFound("ledger", id)
	}
	return r.l, nil
}

func (r statementRepo) ListLedgerEntries(ctx context.Context, ledgerID int64) ([]Entry, error) {
	return r.entries, nil
}

func TestStatementRunningBalance(t *testing.T) {
	supplier := ledger.Ledger{ID: 2, BalanceSide: ledger.SideCredit, OpeningBalance: dec("100"), CurrentBalance: dec("110")}
	repo := statementRepo{l: supplier, entries: []Entry{
		{ID: 1, LedgerID: 2, Credit: dec("15")},
		{ID: 2, LedgerID: 2, Debit: dec("5")},
	}}
	st, err := NewService(repo).Statement(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, st.Lines, 2)
	require.True(t, st.Lines[0].Balance.Equal(dec("115")))
	require.True(t, st.Lines[1].Balance.Equal(dec("110")))

	repo.l.CurrentBalance = dec("999")
	_, err = NewService(repo).Statement(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrConsistency)

	_, err = NewService(repo).Statement(context.Background(), 3)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
