package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/pkg/pg"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownOperation    = errors.New("unknown ledger operation")
	ErrUnknownCurrency     = errors.New("unknown currency")
)

type UserRepository interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	GetForUpdate(ctx context.Context, id int64) (*model.User, error)
	SetBalance(ctx context.Context, id int64, currency model.Currency, value uint) error
	GetBalance(ctx context.Context, id int64, currency model.Currency) (uint, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
}

// ApplyParams describes one balance mutation.
type ApplyParams struct {
	UserID      int64 // destination party
	SourceID    int64 // zero for system-issued credits
	Operation   model.Operation
	Currency    model.Currency
	Amount      uint
	Description string
	Trace       model.Trace
	Initiator   model.Initiator
	CreatedBy   int64
}

// LedgerService is the only writer of user balances. Every call
// computes the new counter from the current one and appends exactly one
// immutable transaction record carrying before/after snapshots.
type LedgerService struct {
	db           *pg.DB
	users        UserRepository
	transactions TransactionRepository
}

func NewLedgerService(db *pg.DB, users UserRepository, transactions TransactionRepository) *LedgerService {
	return &LedgerService{
		db:           db,
		users:        users,
		transactions: transactions,
	}
}

// Apply mutates the destination balance and writes the transaction
// record through the transaction carried in ctx. Callers compose it
// with their own writes via pg.DB.WithinTransaction; a caller that is
// not inside one gets plain per-statement commits and should use
// ApplyCommitted instead.
func (s *LedgerService) Apply(ctx context.Context, p ApplyParams) (*model.Transaction, error) {
	if !p.Currency.Valid() {
		return nil, ErrUnknownCurrency
	}

	dest, err := s.users.GetForUpdate(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("read destination: %w", err)
	}

	before := dest.Balance(p.Currency)
	var after uint

	switch p.Operation {
	case model.OperationIncrement:
		after = before + p.Amount
	case model.OperationDecrement:
		if before < p.Amount {
			return nil, ErrInsufficientBalance
		}
		after = before - p.Amount
	case model.OperationOverride:
		after = p.Amount
	default:
		return nil, ErrUnknownOperation
	}

	if err := s.users.SetBalance(ctx, p.UserID, p.Currency, after); err != nil {
		return nil, fmt.Errorf("write balance: %w", err)
	}

	txn := &model.Transaction{
		Operation:         p.Operation,
		Currency:          p.Currency,
		Amount:            p.Amount,
		DestinationID:     p.UserID,
		DestinationBefore: before,
		DestinationAfter:  after,
		Status:            model.TransactionStatusCompleted,
		Initiator:         p.Initiator,
		Description:       p.Description,
		Trace:             p.Trace,
		CreatedBy:         p.CreatedBy,
	}

	// Source snapshots record the counterparty's state at the moment of
	// the movement; its balance itself does not change here.
	if p.SourceID != 0 && p.SourceID != p.UserID {
		src, err := s.users.Get(ctx, p.SourceID)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		txn.SourceID = p.SourceID
		txn.SourceBefore = src.Balance(p.Currency)
		txn.SourceAfter = src.Balance(p.Currency)
	}

	created, err := s.transactions.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("write transaction record: %w", err)
	}

	return created, nil
}

// ApplyCommitted runs Apply inside its own transaction, so the balance
// write and the record write commit or roll back together.
func (s *LedgerService) ApplyCommitted(ctx context.Context, p ApplyParams) (*model.Transaction, error) {
	var txn *model.Transaction
	err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.Apply(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Credit is the collaborator-facing "give the user value" operation.
func (s *LedgerService) Credit(ctx context.Context, userID int64, currency model.Currency, amount uint, reason string) (*model.Transaction, error) {
	return s.ApplyCommitted(ctx, ApplyParams{
		UserID:      userID,
		Operation:   model.OperationIncrement,
		Currency:    currency,
		Amount:      amount,
		Description: reason,
		Initiator:   model.InitiatorSystem,
	})
}

// Debit is the collaborator-facing "take value from the user" operation.
func (s *LedgerService) Debit(ctx context.Context, userID int64, currency model.Currency, amount uint, reason string) (*model.Transaction, error) {
	return s.ApplyCommitted(ctx, ApplyParams{
		UserID:      userID,
		Operation:   model.OperationDecrement,
		Currency:    currency,
		Amount:      amount,
		Description: reason,
		Initiator:   model.InitiatorSystem,
	})
}
