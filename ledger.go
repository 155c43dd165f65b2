package hrvstr

import (
	"context"
	"time"
)

// TxAction classifies a ledger transaction.
type TxAction string

const (
	// TxDebit consumes credits for a chargeable fetch or unlock.
	TxDebit TxAction = "debit"
	// TxCredit grants credits (purchase or monthly allocation).
	TxCredit TxAction = "credit"
	// TxReversal returns credits debited for a fetch that failed
	// entirely. Metadata["reverses"] names the original transaction.
	TxReversal TxAction = "reversal"
)

// CreditAccount is a user's credit balance within the current billing
// cycle.
type CreditAccount struct {
	UserID            string
	Tier              Tier
	MonthlyAllocation int
	Purchased         int
	Used              int
	CycleResetAt      time.Time
}

// Remaining returns the spendable balance. Purchased credits never
// expire; allocation credits reset each cycle.
func (a *CreditAccount) Remaining() int {
	r := a.MonthlyAllocation + a.Purchased - a.Used
	if r < 0 {
		return 0
	}
	return r
}

// CreditTransaction is one append-only ledger movement. RemainingAfter
// is filled by the store at commit time.
type CreditTransaction struct {
	ID             string
	UserID         string
	Action         TxAction
	Amount         int
	RemainingAfter int
	DataType       DataType
	Component      Component
	Metadata       map[string]string
	CreatedAt      time.Time
}

// CreditLedger tracks per-account balances with linearizable debits.
type CreditLedger interface {
	// Balance returns the account for a user. Unknown users get a
	// zero-value account that rejects any debit.
	Balance(ctx context.Context, userID string) (CreditAccount, error)

	// Debit atomically consumes tx.Amount credits, appends the
	// transaction, and returns the new balance. Returns
	// InsufficientCreditsError (wrapping ErrInsufficientCredits)
	// without any partial deduction when the balance cannot cover the
	// amount. Concurrent debits against one account serialize; two
	// debits only one balance could afford never both succeed.
	Debit(ctx context.Context, tx CreditTransaction) (CreditAccount, error)

	// Credit grants tx.Amount credits and returns the new balance. A
	// TxReversal referencing an earlier debit returns those credits
	// after a failed fetch.
	Credit(ctx context.Context, tx CreditTransaction) (CreditAccount, error)

	// Transactions lists a user's most recent movements, newest first.
	Transactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Provisioner is implemented by ledgers that can create accounts. The
// monthly allocation resets lazily when a balance read or debit
// touches an account past its CycleResetAt.
type Provisioner interface {
	// Provision creates or replaces an account with a fresh cycle.
	Provision(ctx context.Context, account CreditAccount) error
}
