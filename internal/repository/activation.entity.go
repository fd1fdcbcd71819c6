package repository

import (
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
)

type ActivationEntity struct {
	ID            int64                  `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	ChequeID      int64                  `db:"cheque_id"      gorm:"column:cheque_id;not null;index"`
	UserID        int64                  `db:"user_id"        gorm:"column:user_id;not null;index"`
	Status        model.ActivationStatus `db:"status"         gorm:"column:status;not null;index"`
	FailedMessage *string                `db:"failed_message" gorm:"column:failed_message"`
	TransactionID *int64                 `db:"transaction_id" gorm:"column:transaction_id"`
	CreatedAt     time.Time              `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time             `db:"processed_at"   gorm:"column:processed_at"`
}

func (ActivationEntity) TableName() string {
	return "cheque_activations"
}

func toActivationEntity(m *model.ChequeActivation) *ActivationEntity {
	if m == nil {
		return nil
	}
	return &ActivationEntity{
		ID:            m.ID,
		ChequeID:      m.ChequeID,
		UserID:        m.UserID,
		Status:        m.Status,
		FailedMessage: m.FailedMessage,
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

func toActivationModel(e *ActivationEntity) *model.ChequeActivation {
	if e == nil {
		return nil
	}
	return &model.ChequeActivation{
		ID:            e.ID,
		ChequeID:      e.ChequeID,
		UserID:        e.UserID,
		Status:        e.Status,
		FailedMessage: e.FailedMessage,
		TransactionID: e.TransactionID,
		CreatedAt:     e.CreatedAt,
		ProcessedAt:   e.ProcessedAt,
	}
}
