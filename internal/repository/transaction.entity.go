package repository

import (
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
)

type TransactionEntity struct {
	ID                int64                   `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	Operation         model.Operation         `db:"operation"          gorm:"column:operation;not null"`
	Currency          model.Currency          `db:"currency"           gorm:"column:currency;not null"`
	Amount            uint                    `db:"amount"             gorm:"column:amount;not null"`
	DestinationID     int64                   `db:"destination_id"     gorm:"column:destination_id;not null;index"`
	DestinationBefore uint                    `db:"destination_before" gorm:"column:destination_before;not null"`
	DestinationAfter  uint                    `db:"destination_after"  gorm:"column:destination_after;not null"`
	SourceID          int64                   `db:"source_id"          gorm:"column:source_id;index"`
	SourceBefore      uint                    `db:"source_before"      gorm:"column:source_before"`
	SourceAfter       uint                    `db:"source_after"       gorm:"column:source_after"`
	Status            model.TransactionStatus `db:"status"             gorm:"column:status;not null"`
	Initiator         model.Initiator         `db:"initiator"          gorm:"column:initiator;not null"`
	Description       string                  `db:"description"        gorm:"column:description"`
	Trace             model.Trace             `db:"trace"              gorm:"column:trace;type:jsonb"`
	CreatedBy         int64                   `db:"created_by"         gorm:"column:created_by;index"`
	CreatedAt         time.Time               `db:"created_at"         gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                m.ID,
		Operation:         m.Operation,
		Currency:          m.Currency,
		Amount:            m.Amount,
		DestinationID:     m.DestinationID,
		DestinationBefore: m.DestinationBefore,
		DestinationAfter:  m.DestinationAfter,
		SourceID:          m.SourceID,
		SourceBefore:      m.SourceBefore,
		SourceAfter:       m.SourceAfter,
		Status:            m.Status,
		Initiator:         m.Initiator,
		Description:       m.Description,
		Trace:             m.Trace,
		CreatedBy:         m.CreatedBy,
		CreatedAt:         m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                e.ID,
		Operation:         e.Operation,
		Currency:          e.Currency,
		Amount:            e.Amount,
		DestinationID:     e.DestinationID,
		DestinationBefore: e.DestinationBefore,
		DestinationAfter:  e.DestinationAfter,
		SourceID:          e.SourceID,
		SourceBefore:      e.SourceBefore,
		SourceAfter:       e.SourceAfter,
		Status:            e.Status,
		Initiator:         e.Initiator,
		Description:       e.Description,
		Trace:             e.Trace,
		CreatedBy:         e.CreatedBy,
		CreatedAt:         e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
