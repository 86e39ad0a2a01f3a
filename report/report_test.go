package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/ledger-engine/audit"
	"github.com/clearbooks/ledger-engine/ledger"
	"github.com/clearbooks/ledger-engine/report"
	"github.com/clearbooks/ledger-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================
// History used throughout:
//   Dec 20  owner invests 500.00       cash <- capital
//   Jan 10  sale 100.00                cash <- revenue
//   Jan 20  rent 30.00                 rent <- cash

func newHistory(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()

	st.SeedAccount(ledger.AccountSnapshot{CompanyID: "acme", AccountID: "cash", Type: ledger.AccountAsset})
	st.SeedAccount(ledger.AccountSnapshot{CompanyID: "acme", AccountID: "capital", Type: ledger.AccountEquity})
	st.SeedAccount(ledger.AccountSnapshot{CompanyID: "acme", AccountID: "revenue", Type: ledger.AccountRevenue})
	st.SeedAccount(ledger.AccountSnapshot{CompanyID: "acme", AccountID: "rent", Type: ledger.AccountExpense})

	commit(t, st, "TX-INVEST", ledger.NewDate(2025, time.December, 20), "cash", "capital", 50000)
	commit(t, st, "TX-SALE", ledger.NewDate(2026, time.January, 10), "cash", "revenue", 10000)
	commit(t, st, "TX-RENT", ledger.NewDate(2026, time.January, 20), "rent", "cash", 3000)
	return st
}

// commit writes a balanced two-line transaction straight into the store.
func commit(t *testing.T, st *memory.Store, number string, date ledger.Date, debitAccount, creditAccount string, cents ledger.Cents) {
	t.Helper()
	tx := ledger.Transaction{
		TransactionID:     "id-" + number,
		CompanyID:         "acme",
		TransactionNumber: number,
		Date:              date,
		Type:              ledger.TxJournal,
		Currency:          "USD",
		Lines: []ledger.Entry{
			{LineID: "l1-" + number, TransactionID: "id-" + number, CompanyID: "acme", AccountID: debitAccount, Side: ledger.Debit, Amount: cents, Currency: "USD"},
			{LineID: "l2-" + number, TransactionID: "id-" + number, CompanyID: "acme", AccountID: creditAccount, Side: ledger.Credit, Amount: cents, Currency: "USD"},
		},
	}
	require.NoError(t, st.CommitAppendOnly(context.Background(), tx, nil))
}

func january() (ledger.Date, ledger.Date) {
	return ledger.NewDate(2026, time.January, 1), ledger.NewDate(2026, time.January, 31)
}

func rowFor(t *testing.T, tb *report.TrialBalance, account string) report.TrialBalanceRow {
	t.Helper()
	for _, row := range tb.Rows {
		if row.AccountID == account {
			return row
		}
	}
	t.Fatalf("no trial balance row for account %s", account)
	return report.TrialBalanceRow{}
}

// =============================================================================
// TRIAL BALANCE
// =============================================================================

func TestBuildTrialBalance_SplitsOpeningFromActivity(t *testing.T) {
	// GIVEN: December capital injection plus January trading
	// WHEN: Building January's trial balance
	// THEN: December lands in opening, January in debit/credit activity

	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	tb, err := b.BuildTrialBalance(context.Background(), "acme", from, to)
	require.NoError(t, err)

	cash := rowFor(t, tb, "cash")
	assert.Equal(t, ledger.Cents(50000), cash.Opening)
	assert.Equal(t, ledger.Cents(10000), cash.Debits)
	assert.Equal(t, ledger.Cents(3000), cash.Credits)
	assert.Equal(t, ledger.Cents(7000), cash.Activity)
	assert.Equal(t, ledger.Cents(57000), cash.Closing)

	capital := rowFor(t, tb, "capital")
	assert.Equal(t, ledger.Cents(-50000), capital.Opening)
	assert.Equal(t, ledger.Cents(0), capital.Activity)

	revenue := rowFor(t, tb, "revenue")
	assert.Equal(t, ledger.Cents(-10000), revenue.Closing)
}

func TestBuildTrialBalance_RowsSortedAndHashed(t *testing.T) {
	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	tb, err := b.BuildTrialBalance(context.Background(), "acme", from, to)
	require.NoError(t, err)

	for i := 1; i < len(tb.Rows); i++ {
		assert.Less(t, tb.Rows[i-1].AccountID, tb.Rows[i].AccountID)
	}
	assert.Len(t, tb.IntegrityHash, 64)
}

func TestBuildTrialBalance_ReplayIsDeterministic(t *testing.T) {
	// GIVEN: The same committed history
	// WHEN: Replaying the trial balance twice
	// THEN: Byte-identical integrity hashes

	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()
	ctx := context.Background()

	first, err := b.BuildTrialBalance(ctx, "acme", from, to)
	require.NoError(t, err)
	second, err := b.BuildTrialBalance(ctx, "acme", from, to)
	require.NoError(t, err)

	assert.Equal(t, first.IntegrityHash, second.IntegrityHash)
	assert.NoError(t, b.VerifyReplay(ctx, "acme", from, to, first.IntegrityHash))
}

func TestBuildTrialBalance_MixedCurrencyAccount_Rejected(t *testing.T) {
	// GIVEN: The cash account carries both USD and EUR activity
	// WHEN: Building the trial balance
	// THEN: CURRENCY_MISMATCH; cents in different currencies never sum

	st := newHistory(t)
	eur := ledger.Transaction{
		TransactionID:     "id-eur",
		CompanyID:         "acme",
		TransactionNumber: "TX-EUR",
		Date:              ledger.NewDate(2026, time.January, 25),
		Type:              ledger.TxJournal,
		Currency:          "EUR",
		Lines: []ledger.Entry{
			{LineID: "l1-eur", TransactionID: "id-eur", CompanyID: "acme", AccountID: "cash", Side: ledger.Debit, Amount: 2000, Currency: "EUR"},
			{LineID: "l2-eur", TransactionID: "id-eur", CompanyID: "acme", AccountID: "revenue-eur", Side: ledger.Credit, Amount: 2000, Currency: "EUR"},
		},
	}
	require.NoError(t, st.CommitAppendOnly(context.Background(), eur, nil))

	b := report.NewBuilder(st, audit.NopSink{})
	from, to := january()

	_, err := b.BuildTrialBalance(context.Background(), "acme", from, to)
	require.Error(t, err)
	assert.True(t, ledger.IsKind(err, ledger.KindCurrencyMismatch))

	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "cash", lerr.AccountID)
}

func TestVerifyReplay_WrongHash_FingerprintMismatch(t *testing.T) {
	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	err := b.VerifyReplay(context.Background(), "acme", from, to, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, ledger.IsKind(err, ledger.KindReplayFingerprintMismatch))

	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)
	assert.NotEmpty(t, lerr.GotHash)
	assert.NotEqual(t, lerr.WantHash, lerr.GotHash)
}

// =============================================================================
// INCOME STATEMENT
// =============================================================================

func TestGenerateIncomeStatement_January(t *testing.T) {
	// GIVEN: 100.00 of sales and 30.00 of rent in January
	// WHEN: Generating the income statement
	// THEN: Revenue 100.00, expenses 30.00, net income 70.00

	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	is, err := b.GenerateIncomeStatement(context.Background(), "acme", from, to)
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(10000), is.RevenueTotal)
	assert.Equal(t, ledger.Cents(3000), is.ExpenseTotal)
	assert.Equal(t, ledger.Cents(7000), is.NetIncome)
	require.Len(t, is.Revenue, 1)
	assert.Equal(t, "revenue", is.Revenue[0].AccountID)
	assert.Len(t, is.IntegrityHash, 64)
}

// =============================================================================
// BALANCE SHEET
// =============================================================================

func TestGenerateBalanceSheet_BalancesWithSyntheticNetIncome(t *testing.T) {
	// GIVEN: No closing entries were ever posted
	// WHEN: Generating the balance sheet as of Jan 31
	// THEN: Accumulated net income appears as a flagged synthetic equity line
	//       and assets == liabilities + equity

	b := report.NewBuilder(newHistory(t), audit.NopSink{})

	bs, err := b.GenerateBalanceSheet(context.Background(), "auditor", "acme", ledger.NewDate(2026, time.January, 31))
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(57000), bs.AssetTotal)
	assert.Equal(t, ledger.Cents(0), bs.LiabilityTotal)
	assert.Equal(t, ledger.Cents(57000), bs.EquityTotal)
	assert.True(t, bs.Balanced)

	var synthetic *report.StatementLine
	for i := range bs.Equity {
		if bs.Equity[i].Synthetic {
			synthetic = &bs.Equity[i]
		}
	}
	require.NotNil(t, synthetic, "the implied net income line must be present")
	assert.Equal(t, report.SyntheticNetIncomeAccount, synthetic.AccountID)
	assert.Equal(t, ledger.Cents(7000), synthetic.Amount)
}

func TestGenerateBalanceSheet_MidDecember_OnlyCapital(t *testing.T) {
	b := report.NewBuilder(newHistory(t), audit.NopSink{})

	bs, err := b.GenerateBalanceSheet(context.Background(), "auditor", "acme", ledger.NewDate(2025, time.December, 31))
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(50000), bs.AssetTotal)
	assert.Equal(t, ledger.Cents(50000), bs.EquityTotal)
	assert.True(t, bs.Balanced)
}

// =============================================================================
// CASH FLOW (DIRECT)
// =============================================================================

func TestGenerateCashFlowDirect_January(t *testing.T) {
	// GIVEN: January saw 100.00 in and 30.00 out of cash
	// WHEN: Generating the direct cash flow over the cash account set
	// THEN: Net change 70.00

	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	cf, err := b.GenerateCashFlowDirect(context.Background(), "acme", from, to, []string{"cash"})
	require.NoError(t, err)

	assert.Equal(t, ledger.Cents(7000), cf.NetChange)
	require.Len(t, cf.Lines, 1)
	assert.Equal(t, "cash", cf.Lines[0].AccountID)
}

func TestGenerateCashFlowDirect_NonCashAccountsExcluded(t *testing.T) {
	b := report.NewBuilder(newHistory(t), audit.NopSink{})
	from, to := january()

	cf, err := b.GenerateCashFlowDirect(context.Background(), "acme", from, to, []string{"cash", "petty-cash"})
	require.NoError(t, err)

	// revenue and rent moved in January but are not in the cash set.
	assert.Len(t, cf.Lines, 1)
	assert.Equal(t, ledger.Cents(7000), cf.NetChange)
}
