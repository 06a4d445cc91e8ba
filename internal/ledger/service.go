// Package ledger owns token balances. Credit and Debit are the only mutation
// entry points; both append a transaction row and adjust the materialized
// balance inside the caller's transaction.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// ReasonInsufficientBalance is the details reason on a rejected debit.
const ReasonInsufficientBalance = "insufficient_balance"

const uniqueReferenceConstraint = "ux_token_transactions_reference"

// TxRunner opens database transactions.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes ledger operations.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.TokenTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.TokenTransaction, error)
	Spend(ctx context.Context, userID uuid.UUID, amount int64, referenceID uuid.UUID) (*models.TokenTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	// Granted sums the purchase and subscription credits recorded against
	// referenceIDs. A nil tx reads outside any transaction.
	Granted(ctx context.Context, tx *gorm.DB, userID uuid.UUID, referenceIDs ...uuid.UUID) (int64, error)
	Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (TransactionPage, error)
}

// TransactionPage is one newest-first page of ledger rows.
type TransactionPage = pagination.Page[models.TokenTransaction]

// CreditInput adds tokens to a user.
type CreditInput struct {
	UserID      uuid.UUID
	Amount      int64
	Type        enums.TokenTransactionType
	ReferenceID uuid.UUID
}

// DebitInput removes tokens from a user.
type DebitInput struct {
	UserID      uuid.UUID
	Amount      int64
	Type        enums.TokenTransactionType
	ReferenceID uuid.UUID
}

// InsufficientBalance carries the shortfall on a rejected debit.
type InsufficientBalance struct {
	Reason    string `json:"reason"`
	Balance   int64  `json:"balance"`
	Required  int64  `json:"required"`
	Shortfall int64  `json:"shortfall"`
}

type service struct {
	db   TxRunner
	repo Repository
	logg *logger.Logger
}

// NewService wires a ledger service.
func NewService(db TxRunner, repo Repository, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	return &service{db: db, repo: repo, logg: logg}, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.TokenTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validate(input.UserID, input.Amount, input.ReferenceID); err != nil {
		return nil, err
	}
	if !input.Type.IsCredit() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%q is not a credit type", input.Type)
	}

	repo := s.repo.WithTx(tx)
	txn := &models.TokenTransaction{
		UserID:      input.UserID,
		Amount:      input.Amount,
		Type:        input.Type,
		ReferenceID: input.ReferenceID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.InsertTransaction(ctx, txn); err != nil {
		return nil, mapInsertError(err)
	}
	if err := repo.AddToBalance(ctx, input.UserID, input.Amount); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit balance")
	}
	s.log(ctx, "ledger.credit", txn)
	return txn, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.TokenTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validate(input.UserID, input.Amount, input.ReferenceID); err != nil {
		return nil, err
	}
	if !input.Type.IsDebit() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%q is not a debit type", input.Type)
	}

	repo := s.repo.WithTx(tx)
	balance, err := repo.LockBalance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock balance")
	}
	if balance < input.Amount {
		return nil, insufficient(balance, input.Amount)
	}
	// The conditional update is the authoritative check; the read above only
	// shapes the error message.
	ok, err := repo.SubtractFromBalance(ctx, input.UserID, input.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit balance")
	}
	if !ok {
		return nil, insufficient(balance, input.Amount)
	}

	txn := &models.TokenTransaction{
		UserID:      input.UserID,
		Amount:      -input.Amount,
		Type:        input.Type,
		ReferenceID: input.ReferenceID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.InsertTransaction(ctx, txn); err != nil {
		return nil, mapInsertError(err)
	}
	s.log(ctx, "ledger.debit", txn)
	return txn, nil
}

func (s *service) Spend(ctx context.Context, userID uuid.UUID, amount int64, referenceID uuid.UUID) (*models.TokenTransaction, error) {
	var txn *models.TokenTransaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.Debit(ctx, tx, DebitInput{
			UserID:      userID,
			Amount:      amount,
			Type:        enums.TokenTransactionUsage,
			ReferenceID: referenceID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read balance")
	}
	return balance, nil
}

func (s *service) BalanceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	balance, err := s.repo.WithTx(tx).LockBalance(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock balance")
	}
	return balance, nil
}

var grantTypes = []enums.TokenTransactionType{
	enums.TokenTransactionPurchase,
	enums.TokenTransactionSubscription,
}

func (s *service) Granted(ctx context.Context, tx *gorm.DB, userID uuid.UUID, referenceIDs ...uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	total, err := s.repo.WithTx(tx).SumByReferences(ctx, userID, grantTypes, referenceIDs)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum granted tokens")
	}
	return total, nil
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (TransactionPage, error) {
	if userID == uuid.Nil {
		return TransactionPage{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return TransactionPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return TransactionPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	return pagination.Paginate(rows, params.Limit, func(txn models.TokenTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
	}), nil
}

func (s *service) log(ctx context.Context, event string, txn *models.TokenTransaction) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":      txn.UserID.String(),
		"amount":       txn.Amount,
		"type":         txn.Type,
		"reference_id": txn.ReferenceID.String(),
	})
	s.logg.Event(logCtx, event, "token ledger updated")
}

func validate(userID uuid.UUID, amount int64, referenceID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if referenceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	return nil
}

func insufficient(balance, required int64) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient token balance").
		WithDetails(InsufficientBalance{
			Reason:    ReasonInsufficientBalance,
			Balance:   balance,
			Required:  required,
			Shortfall: required - balance,
		})
}

func mapInsertError(err error) error {
	if dbpkg.IsUniqueViolation(err, uniqueReferenceConstraint) || dbpkg.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger entry already recorded for reference")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert token transaction")
}
