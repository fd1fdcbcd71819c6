package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrChequeNotFound = errors.New("cheque not found")
	ErrChequeInactive = errors.New("cheque is not active")
	ErrAlreadyDeleted = errors.New("cheque already deleted")
)

type ChequeRepository struct {
	*pg.DB
}

func NewChequeRepository(db *pg.DB) *ChequeRepository {
	return &ChequeRepository{
		db,
	}
}

func (r *ChequeRepository) Create(ctx context.Context, c *model.Cheque) (*model.Cheque, error) {
	entity := toChequeEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toChequeModel(entity), nil
}

func (r *ChequeRepository) Get(ctx context.Context, id int64) (*model.Cheque, error) {
	var entity ChequeEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}

	return toChequeModel(&entity), nil
}

// GetForUpdate reads the cheque row with a row lock, serializing
// concurrent redemptions of the same cheque. Callers must hold an open
// transaction (WithinTransaction) so the lock lives until commit.
func (r *ChequeRepository) GetForUpdate(ctx context.Context, id int64) (*model.Cheque, error) {
	var entity ChequeEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChequeNotFound
		}
		return nil, err
	}

	return toChequeModel(&entity), nil
}

// GetActive returns the cheque only while it is redeemable: not deleted
// and with fewer non-failed activations than its limit. Availability is
// computed with a correlated count subquery against the activations
// table; no cached counter column exists to drift from reality.
func (r *ChequeRepository) GetActive(ctx context.Context, id int64) (*model.Cheque, error) {
	var entity ChequeEntity

	sub := r.Read(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Select("count(*)").
		Where("cheque_activations.cheque_id = cheques.id").
		Where("cheque_activations.status <> ?", model.ActivationStatusFailed)

	err := r.Read(ctx).WithContext(ctx).
		Model(&ChequeEntity{}).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Where("activation_limit > (?)", sub).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChequeInactive
		}
		return nil, err
	}

	return toChequeModel(&entity), nil
}

// CountActivations counts non-failed activations for one cheque.
func (r *ChequeRepository) CountActivations(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Where("cheque_id = ?", id).
		Where("status <> ?", model.ActivationStatusFailed).
		Count(&count).
		Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SetTransactionID links the cheque to its escrow transaction. The
// cheque row is flushed before the ledger call so the transaction trace
// can reference the cheque id; this closes the loop the other way.
func (r *ChequeRepository) SetTransactionID(ctx context.Context, id int64, transactionID int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ChequeEntity{}).
		Where("id = ?", id).
		Update("transaction_id", transactionID)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrChequeNotFound
	}

	return nil
}

// MarkDeleted soft-deletes the cheque. The refusal to touch an already
// deleted row makes the compensating refund single-shot.
func (r *ChequeRepository) MarkDeleted(ctx context.Context, id int64, deletedBy int64) error {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&ChequeEntity{}).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Updates(map[string]interface{}{
			"deleted_at": &now,
			"deleted_by": deletedBy,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadyDeleted
	}

	return nil
}

// ListByCreator returns a creator's cheques, newest first.
func (r *ChequeRepository) ListByCreator(ctx context.Context, creatorID int64, limit, offset int) ([]*model.Cheque, error) {
	if limit <= 0 {
		limit = 50
	}

	var entities []*ChequeEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	models := make([]*model.Cheque, len(entities))
	for i, e := range entities {
		models[i] = toChequeModel(e)
	}
	return models, nil
}
