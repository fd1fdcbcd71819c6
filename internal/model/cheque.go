package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ChequeType determines who can redeem a cheque.
type ChequeType string

const (
	// ChequeTypePersonal is redeemable by a single user (the bound
	// redeemer if set, otherwise anyone once).
	ChequeTypePersonal ChequeType = "personal"
	// ChequeTypeMulti is redeemable by up to ActivationLimit distinct users.
	ChequeTypeMulti ChequeType = "multi"
)

// Subscriptions is the list of channel ids a redeemer has to be
// subscribed to before activation is allowed. Stored as jsonb.
type Subscriptions []string

func (s Subscriptions) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Subscriptions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported subscriptions source type")
	}
}

// Cheque is a unit of escrowed value. The amount is debited from the
// creator at allocation time, so an existing row always has its funds
// reserved already.
type Cheque struct {
	ID              int64         `json:"id"               db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Type            ChequeType    `json:"type"             db:"type"             gorm:"column:type;not null"`
	Amount          uint          `json:"amount"           db:"amount"           gorm:"column:amount;not null"`
	Currency        Currency      `json:"currency"         db:"currency"         gorm:"column:currency;not null"`
	CreatorID       int64         `json:"creator_id"       db:"creator_id"       gorm:"column:creator_id;not null;index"`
	Creator         *User         `json:"-"                                      gorm:"foreignKey:CreatorID;references:ID"`
	RedeemerID      *int64        `json:"redeemer_id"      db:"redeemer_id"      gorm:"column:redeemer_id;index"`
	Password        *string       `json:"-"                db:"password"         gorm:"column:password"`
	ActivationLimit int           `json:"activation_limit" db:"activation_limit" gorm:"column:activation_limit;not null;default:1"`
	RequiredSubs    Subscriptions `json:"required_subs"    db:"required_subs"    gorm:"column:required_subs;type:jsonb"`
	TransactionID   int64         `json:"transaction_id"   db:"transaction_id"   gorm:"column:transaction_id;not null"` // escrow debit trace
	CreatedAt       time.Time     `json:"created_at"       db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	DeletedAt       *time.Time    `json:"deleted_at"       db:"deleted_at"       gorm:"column:deleted_at;index"`
	DeletedBy       *int64        `json:"deleted_by"       db:"deleted_by"       gorm:"column:deleted_by"`
}

func (Cheque) TableName() string { return "cheques" }

// CanRedeem applies the access rules: a personal cheque is only
// redeemable by the bound redeemer (when bound) or the creator; a
// multi cheque only needs availability.
func (c *Cheque) CanRedeem(userID int64) bool {
	if c.Type != ChequeTypePersonal {
		return true
	}
	if c.RedeemerID == nil {
		return true
	}
	return *c.RedeemerID == userID || c.CreatorID == userID
}

// ChequeCreateRequest is the allocator input.
type ChequeCreateRequest struct {
	CreatorID       int64
	Type            ChequeType
	Amount          uint
	Currency        Currency
	RedeemerID      *int64
	Password        *string
	ActivationLimit int
	RequiredSubs    Subscriptions
}

func (p ChequeCreateRequest) Validate() error {
	if p.CreatorID == 0 {
		return errors.New("creator_id is required")
	}
	if p.Amount == 0 {
		return errors.New("amount must be positive")
	}
	if !p.Currency.Valid() {
		return errors.New("unknown currency")
	}
	switch p.Type {
	case ChequeTypePersonal, ChequeTypeMulti:
	default:
		return errors.New("unknown cheque type")
	}
	if p.Type == ChequeTypeMulti && p.ActivationLimit < 1 {
		return errors.New("activation_limit must be at least 1")
	}
	return nil
}
