package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrActivationNotFound = errors.New("activation not found")
	ErrAlreadyTerminal    = errors.New("activation already in a terminal state")
)

type ActivationRepository struct {
	*pg.DB
}

func NewActivationRepository(db *pg.DB) *ActivationRepository {
	return &ActivationRepository{
		db,
	}
}

func (r *ActivationRepository) Create(ctx context.Context, a *model.ChequeActivation) (*model.ChequeActivation, error) {
	entity := toActivationEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toActivationModel(entity), nil
}

func (r *ActivationRepository) Get(ctx context.Context, id int64) (*model.ChequeActivation, error) {
	var entity ActivationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}

	return toActivationModel(&entity), nil
}

// ExistsNonFailed reports whether a non-failed activation already
// exists for the (cheque, user) pair. This is the existence half of the
// duplicate-activation guard; the caller holds the pair lock around it.
func (r *ActivationRepository) ExistsNonFailed(ctx context.Context, chequeID, userID int64) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Where("cheque_id = ?", chequeID).
		Where("user_id = ?", userID).
		Where("status <> ?", model.ActivationStatusFailed).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountCompleted counts completed activations for one cheque. It reads
// through the write connection so a caller holding the cheque row lock
// sees the committed count, not a stale replica.
func (r *ActivationRepository) CountCompleted(ctx context.Context, chequeID int64) (int64, error) {
	var count int64
	err := r.Write(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Where("cheque_id = ?", chequeID).
		Where("status = ?", model.ActivationStatusCompleted).
		Count(&count).
		Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Complete transitions IN_PROGRESS -> COMPLETED and records the payout
// transaction. The status guard in the WHERE clause keeps terminal rows
// immutable even under redelivery.
func (r *ActivationRepository) Complete(ctx context.Context, id int64, transactionID int64) error {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Where("id = ?", id).
		Where("status = ?", model.ActivationStatusInProgress).
		Updates(map[string]interface{}{
			"status":         model.ActivationStatusCompleted,
			"transaction_id": transactionID,
			"processed_at":   &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}

	return nil
}

// Fail transitions IN_PROGRESS -> FAILED with a human-readable reason.
func (r *ActivationRepository) Fail(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&ActivationEntity{}).
		Where("id = ?", id).
		Where("status = ?", model.ActivationStatusInProgress).
		Updates(map[string]interface{}{
			"status":         model.ActivationStatusFailed,
			"failed_message": reason,
			"processed_at":   &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}

	return nil
}

func (r *ActivationRepository) ListByCheque(ctx context.Context, chequeID int64) ([]*model.ChequeActivation, error) {
	var entities []*ActivationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("cheque_id = ?", chequeID).
		Order("id").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	models := make([]*model.ChequeActivation, len(entities))
	for i, e := range entities {
		models[i] = toActivationModel(e)
	}
	return models, nil
}
