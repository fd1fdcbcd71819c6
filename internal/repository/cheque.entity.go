package repository

import (
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
)

type ChequeEntity struct {
	ID              int64               `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Type            model.ChequeType    `db:"type"             gorm:"column:type;not null"`
	Amount          uint                `db:"amount"           gorm:"column:amount;not null"`
	Currency        model.Currency      `db:"currency"         gorm:"column:currency;not null"`
	CreatorID       int64               `db:"creator_id"       gorm:"column:creator_id;not null;index"`
	RedeemerID      *int64              `db:"redeemer_id"      gorm:"column:redeemer_id;index"`
	Password        *string             `db:"password"         gorm:"column:password"`
	ActivationLimit int                 `db:"activation_limit" gorm:"column:activation_limit;not null;default:1"`
	RequiredSubs    model.Subscriptions `db:"required_subs"    gorm:"column:required_subs;type:jsonb"`
	TransactionID   int64               `db:"transaction_id"   gorm:"column:transaction_id;not null"`
	CreatedAt       time.Time           `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	DeletedAt       *time.Time          `db:"deleted_at"       gorm:"column:deleted_at;index"`
	DeletedBy       *int64              `db:"deleted_by"       gorm:"column:deleted_by"`
}

func (ChequeEntity) TableName() string {
	return "cheques"
}

func toChequeEntity(m *model.Cheque) *ChequeEntity {
	if m == nil {
		return nil
	}
	return &ChequeEntity{
		ID:              m.ID,
		Type:            m.Type,
		Amount:          m.Amount,
		Currency:        m.Currency,
		CreatorID:       m.CreatorID,
		RedeemerID:      m.RedeemerID,
		Password:        m.Password,
		ActivationLimit: m.ActivationLimit,
		RequiredSubs:    m.RequiredSubs,
		TransactionID:   m.TransactionID,
		CreatedAt:       m.CreatedAt,
		DeletedAt:       m.DeletedAt,
		DeletedBy:       m.DeletedBy,
	}
}

func toChequeModel(e *ChequeEntity) *model.Cheque {
	if e == nil {
		return nil
	}
	return &model.Cheque{
		ID:              e.ID,
		Type:            e.Type,
		Amount:          e.Amount,
		Currency:        e.Currency,
		CreatorID:       e.CreatorID,
		RedeemerID:      e.RedeemerID,
		Password:        e.Password,
		ActivationLimit: e.ActivationLimit,
		RequiredSubs:    e.RequiredSubs,
		TransactionID:   e.TransactionID,
		CreatedAt:       e.CreatedAt,
		DeletedAt:       e.DeletedAt,
		DeletedBy:       e.DeletedBy,
	}
}
