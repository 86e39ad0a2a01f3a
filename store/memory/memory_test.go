package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/ledger-engine/ledger"
	"github.com/clearbooks/ledger-engine/revenue"
	"github.com/clearbooks/ledger-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func tx(id, number string, date ledger.Date, cents ledger.Cents) ledger.Transaction {
	return ledger.Transaction{
		TransactionID:     id,
		CompanyID:         "acme",
		TransactionNumber: number,
		Date:              date,
		Type:              ledger.TxJournal,
		Currency:          "USD",
		Lines: []ledger.Entry{
			{LineID: id + "-1", TransactionID: id, CompanyID: "acme", AccountID: "cash", Side: ledger.Debit, Amount: cents, Currency: "USD"},
			{LineID: id + "-2", TransactionID: id, CompanyID: "acme", AccountID: "revenue", Side: ledger.Credit, Amount: cents, Currency: "USD"},
		},
	}
}

func day(d int) ledger.Date { return ledger.NewDate(2026, time.January, d) }

// =============================================================================
// APPEND-ONLY CONSTRAINTS
// =============================================================================

func TestCommitAppendOnly_DuplicateNumber_Rejected(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-1", "TX-1", day(10), 1000), nil))

	err := st.CommitAppendOnly(ctx, tx("id-2", "TX-1", day(11), 2000), nil)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransactionNumber)
}

func TestCommitAppendOnly_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first := tx("id-1", "TX-1", day(10), 1000)
	first.IdempotencyKey = "k-1"
	require.NoError(t, st.CommitAppendOnly(ctx, first, nil))

	second := tx("id-2", "TX-2", day(11), 2000)
	second.IdempotencyKey = "k-1"
	err := st.CommitAppendOnly(ctx, second, nil)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
}

func TestCommitAppendOnly_ValidationSeesCommittedBalances(t *testing.T) {
	// GIVEN: A committed 10.00 debit to cash
	// WHEN: Committing with a hook that inspects prior balances and rejects
	// THEN: The hook sees the committed balance and the write is aborted

	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-1", "TX-1", day(10), 1000), nil))

	reject := errors.New("balance check failed")
	err := st.CommitAppendOnly(ctx, tx("id-2", "TX-2", day(11), 2000), func(prior map[string]ledger.Cents) error {
		assert.Equal(t, ledger.Cents(1000), prior["cash"])
		assert.Equal(t, ledger.Cents(-1000), prior["revenue"])
		return reject
	})
	assert.ErrorIs(t, err, reject)

	got, lookupErr := st.GetPostedTransactionByNumber(ctx, "acme", "TX-2")
	require.NoError(t, lookupErr)
	assert.Nil(t, got, "a rejected commit must not write")
}

// =============================================================================
// REPLAY ORDER AND RANGES
// =============================================================================

func TestListPostedTransactions_OrderedByDateNotCommitOrder(t *testing.T) {
	// GIVEN: Transactions committed out of date order
	// WHEN: Listing
	// THEN: Replay order is by date

	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-1", "TX-1", day(20), 1000), nil))
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-2", "TX-2", day(5), 1000), nil))
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-3", "TX-3", day(12), 1000), nil))

	txs, err := st.ListPostedTransactions(ctx, "acme", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "TX-2", txs[0].TransactionNumber)
	assert.Equal(t, "TX-3", txs[1].TransactionNumber)
	assert.Equal(t, "TX-1", txs[2].TransactionNumber)
}

func TestListPostedTransactions_RangeBoundsInclusive(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-1", "TX-1", day(5), 1000), nil))
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-2", "TX-2", day(10), 1000), nil))
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-3", "TX-3", day(20), 1000), nil))

	txs, err := st.ListPostedTransactions(ctx, "acme", day(10), day(20))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "TX-2", txs[0].TransactionNumber)
	assert.Equal(t, "TX-3", txs[1].TransactionNumber)
}

func TestListPostedTransactions_VoidExcluded(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	voided := tx("id-1", "TX-1", day(5), 1000)
	voided.Void = true
	require.NoError(t, st.CommitAppendOnly(ctx, voided, nil))
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-2", "TX-2", day(6), 1000), nil))

	txs, err := st.ListPostedTransactions(ctx, "acme", ledger.Date{}, ledger.Date{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "TX-2", txs[0].TransactionNumber)

	balances, err := st.GetAccountBalancesCents(ctx, "acme", []string{"cash"})
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1000), balances["cash"], "void transactions never count toward balances")
}

// =============================================================================
// BALANCES AND LOOKUPS
// =============================================================================

func TestGetAccountBalancesCents_UnknownAccountsZero(t *testing.T) {
	st := memory.New()
	balances, err := st.GetAccountBalancesCents(context.Background(), "acme", []string{"never-used"})
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(0), balances["never-used"])
}

func TestGetPostedTransactionByNumber_ReturnsIsolatedCopy(t *testing.T) {
	// GIVEN: A committed transaction
	// WHEN: Mutating the lines of a lookup result
	// THEN: The stored transaction is unaffected

	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.CommitAppendOnly(ctx, tx("id-1", "TX-1", day(10), 1000), nil))

	got, err := st.GetPostedTransactionByNumber(ctx, "acme", "TX-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	got.Lines[0].Amount = 999999

	again, err := st.GetPostedTransactionByNumber(ctx, "acme", "TX-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1000), again.Lines[0].Amount)
}

func TestGetPostedTransactionByNumber_Missing_NilNil(t *testing.T) {
	st := memory.New()
	got, err := st.GetPostedTransactionByNumber(context.Background(), "acme", "NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// SCHEDULES
// =============================================================================

func TestScheduleRoundTrip_MilestonesIsolated(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	s := revenue.Schedule{
		ID:                       "sub-1",
		CompanyID:                "acme",
		Currency:                 "USD",
		TotalAmount:              12000,
		RevenueAccountID:         "revenue",
		DeferredRevenueAccountID: "deferred",
		Method:                   revenue.Milestone,
		Start:                    day(1),
		End:                      day(31),
		Milestones:               []revenue.MilestoneAmount{{Date: day(10), Amount: 12000}},
	}
	require.NoError(t, st.SaveSchedule(ctx, s))

	got, err := st.GetSchedule(ctx, "acme", "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	got.Milestones[0].Amount = 1

	again, err := st.GetSchedule(ctx, "acme", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(12000), again.Milestones[0].Amount)
}
