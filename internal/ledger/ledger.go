// Package ledger is the credit accounting core. Balances are fixed-point
// decimals with scale 2, every mutation appends a transaction row carrying
// the balance after the change, and charge-and-record is atomic: either both
// the deduction and the transaction commit or neither does.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/metrics"
	"github.com/vsavkov/sitesmith/internal/store"
)

// walletTxnLimit caps the transactions returned in a wallet view.
const walletTxnLimit = 50

// InsufficientCreditsError reports a charge attempt against a balance that
// cannot cover it.
type InsufficientCreditsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// ErrInvalidAmount is returned for non-positive amounts or amounts with more
// than two decimal places.
var ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")

// Entry is the committed result of a balance mutation.
type Entry struct {
	TransactionID string
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// Wallet is the balance plus the most recent transactions, newest first.
type Wallet struct {
	Balance      decimal.Decimal
	Transactions []*store.CreditTransaction
}

type Service struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{pool: pool, log: log.With().Str("component", "ledger").Logger()}
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Round(2).Equal(amount)
}

// Charge atomically deducts amount from the user's balance and appends a
// charge transaction. The transaction row records the amount as a negative
// delta. Fails with *InsufficientCreditsError when the balance cannot cover
// the amount; no partial state is left behind.
func (s *Service) Charge(ctx context.Context, userID string, amount decimal.Decimal, description, projectID string) (*Entry, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	entry, err := s.apply(ctx, userID, amount.Neg(), store.TxnCharge, description, projectID)
	if err != nil {
		return nil, err
	}
	f, _ := amount.Float64()
	metrics.CreditsCharged.Add(f)
	metrics.CreditTransactions.WithLabelValues(string(store.TxnCharge)).Inc()
	s.log.Info().
		Str("user_id", userID).
		Str("amount", amount.StringFixed(2)).
		Str("balance_after", entry.BalanceAfter.StringFixed(2)).
		Str("description", description).
		Msg("credits charged")
	return entry, nil
}

// Grant atomically adds amount to the user's balance and appends a
// transaction of the given kind (grant, bonus, or purchase).
func (s *Service) Grant(ctx context.Context, userID string, amount decimal.Decimal, kind store.TxnKind, description, projectID string) (*Entry, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if !kind.Valid() || kind == store.TxnCharge {
		return nil, fmt.Errorf("invalid grant kind %q", kind)
	}
	entry, err := s.apply(ctx, userID, amount, kind, description, projectID)
	if err != nil {
		return nil, err
	}
	f, _ := amount.Float64()
	metrics.CreditsGranted.Add(f)
	metrics.CreditTransactions.WithLabelValues(string(kind)).Inc()
	s.log.Info().
		Str("user_id", userID).
		Str("amount", amount.StringFixed(2)).
		Str("kind", string(kind)).
		Str("balance_after", entry.BalanceAfter.StringFixed(2)).
		Msg("credits granted")
	return entry, nil
}

// Refund returns amount to the user after a failed or reverted operation.
func (s *Service) Refund(ctx context.Context, userID string, amount decimal.Decimal, description, projectID string) (*Entry, error) {
	return s.Grant(ctx, userID, amount, store.TxnRefund, description, projectID)
}

// apply performs the balance mutation under a serializable transaction with
// a row lock on the user, so concurrent mutations of the same wallet
// serialize instead of double-spending.
func (s *Service) apply(ctx context.Context, userID string, delta decimal.Decimal, kind store.TxnKind, description, projectID string) (*Entry, error) {
	entry := &Entry{Amount: delta}
	err := store.WithSerializableTx(ctx, s.pool, s.log, func(ctx context.Context, tx pgx.Tx) error {
		var creditsText string
		err := tx.QueryRow(ctx, `SELECT credits::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&creditsText)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("lock user row: %w", err)
		}
		balance, err := decimal.NewFromString(creditsText)
		if err != nil {
			return fmt.Errorf("parse balance %q: %w", creditsText, err)
		}

		newBalance := balance.Add(delta)
		if newBalance.IsNegative() {
			return &InsufficientCreditsError{Required: delta.Neg(), Available: balance}
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE users SET credits = $1::numeric, updated_at = $2 WHERE id = $3`,
			newBalance.StringFixed(2), now, userID); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		entry.TransactionID = ulid.Make().String()
		entry.BalanceAfter = newBalance
		var projectRef *string
		if projectID != "" {
			projectRef = &projectID
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO credit_transactions (id, user_id, amount, kind, description, project_id, balance_after, created_at)
			 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7::numeric, $8)`,
			entry.TransactionID, userID, delta.StringFixed(2), string(kind), description,
			projectRef, newBalance.StringFixed(2), now); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Balance returns the current balance without any transaction history.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var creditsText string
	err := s.pool.QueryRow(ctx, `SELECT credits::text FROM users WHERE id = $1`, userID).Scan(&creditsText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, store.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(creditsText)
}

// Wallet returns the balance and up to walletTxnLimit recent transactions,
// newest first with a stable tiebreak on id.
func (s *Service) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount::text, kind, description, COALESCE(project_id, ''), balance_after::text, created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, walletTxnLimit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := []*store.CreditTransaction{}
	for rows.Next() {
		var t store.CreditTransaction
		var kind, amount, balanceAfter string
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &kind, &t.Description, &t.ProjectID, &balanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = store.TxnKind(kind)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
			return nil, fmt.Errorf("parse balance_after %q: %w", balanceAfter, err)
		}
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Wallet{Balance: balance, Transactions: txns}, nil
}
