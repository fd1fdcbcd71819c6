package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/pkg/pg"
)

var (
	ErrChequeInactive   = errors.New("cheque is not active")
	ErrNotChequeCreator = errors.New("only the cheque creator may delete it")
)

type ChequeRepository interface {
	Create(ctx context.Context, c *model.Cheque) (*model.Cheque, error)
	Get(ctx context.Context, id int64) (*model.Cheque, error)
	GetActive(ctx context.Context, id int64) (*model.Cheque, error)
	SetTransactionID(ctx context.Context, id int64, transactionID int64) error
	MarkDeleted(ctx context.Context, id int64, deletedBy int64) error
	CountActivations(ctx context.Context, id int64) (int64, error)
}

// VoucherView is what collaborators (UI/API layer) see of a cheque.
type VoucherView struct {
	Cheque      *model.Cheque `json:"cheque"`
	Activations int64         `json:"activations"`
	Active      bool          `json:"active"`
}

// ChequeService allocates and releases escrowed value. The escrow debit
// and the cheque row always commit together; the compensating refund
// and the soft-delete always commit together.
type ChequeService struct {
	db      *pg.DB
	ledger  *LedgerService
	cheques ChequeRepository
}

func NewChequeService(db *pg.DB, ledger *LedgerService, cheques ChequeRepository) *ChequeService {
	return &ChequeService{
		db:      db,
		ledger:  ledger,
		cheques: cheques,
	}
}

// Generate allocates a cheque: one transaction debits the creator into
// escrow and inserts the cheque row. An insufficient-funds debit aborts
// the whole allocation, so no orphan cheque can exist.
func (s *ChequeService) Generate(ctx context.Context, req model.ChequeCreateRequest) (*model.Cheque, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	limit := req.ActivationLimit
	if req.Type == model.ChequeTypePersonal {
		limit = 1
	}

	var created *model.Cheque
	err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		cheque := &model.Cheque{
			Type:            req.Type,
			Amount:          req.Amount,
			Currency:        req.Currency,
			CreatorID:       req.CreatorID,
			RedeemerID:      req.RedeemerID,
			Password:        req.Password,
			ActivationLimit: limit,
			RequiredSubs:    req.RequiredSubs,
		}

		var err error
		created, err = s.cheques.Create(ctx, cheque)
		if err != nil {
			return fmt.Errorf("create cheque: %w", err)
		}

		txn, err := s.ledger.Apply(ctx, ApplyParams{
			UserID:      req.CreatorID,
			Operation:   model.OperationDecrement,
			Currency:    req.Currency,
			Amount:      req.Amount,
			Description: "cheque escrow",
			Trace:       model.Trace{model.TraceCheque: created.ID},
			Initiator:   model.InitiatorUser,
			CreatedBy:   req.CreatorID,
		})
		if err != nil {
			return err
		}

		if err := s.cheques.SetTransactionID(ctx, created.ID, txn.ID); err != nil {
			return err
		}
		created.TransactionID = txn.ID

		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Delete cancels a still-active cheque: one transaction refunds the
// escrowed amount to the creator and soft-deletes the row. An exhausted
// or already-deleted cheque cannot be deleted, so the refund fires at
// most once.
func (s *ChequeService) Delete(ctx context.Context, chequeID int64, actorID int64, initiator model.Initiator) error {
	return s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		cheque, err := s.cheques.GetActive(ctx, chequeID)
		if err != nil {
			return err
		}

		if cheque.CreatorID != actorID && initiator != model.InitiatorAdmin {
			return ErrNotChequeCreator
		}

		if _, err := s.ledger.Apply(ctx, ApplyParams{
			UserID:      cheque.CreatorID,
			Operation:   model.OperationIncrement,
			Currency:    cheque.Currency,
			Amount:      cheque.Amount,
			Description: "cheque refund",
			Trace:       model.Trace{model.TraceCheque: cheque.ID},
			Initiator:   initiator,
			CreatedBy:   actorID,
		}); err != nil {
			return err
		}

		return s.cheques.MarkDeleted(ctx, chequeID, actorID)
	})
}

// GetActive returns the cheque while it is still redeemable.
func (s *ChequeService) GetActive(ctx context.Context, id int64) (*model.Cheque, error) {
	cheque, err := s.cheques.GetActive(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrChequeInactive) {
			return nil, ErrChequeInactive
		}
		return nil, err
	}
	return cheque, nil
}

// GetVoucher is the collaborator-facing read: the cheque plus its
// activation accounting, present whether or not it is still active.
func (s *ChequeService) GetVoucher(ctx context.Context, id int64) (*VoucherView, error) {
	cheque, err := s.cheques.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := s.cheques.CountActivations(ctx, id)
	if err != nil {
		return nil, err
	}

	return &VoucherView{
		Cheque:      cheque,
		Activations: count,
		Active:      cheque.DeletedAt == nil && count < int64(cheque.ActivationLimit),
	}, nil
}
