package model

import "time"

// ActivationStatus is the redemption state machine. Completed and
// failed are terminal; a terminal row is never transitioned again.
type ActivationStatus string

const (
	ActivationStatusInProgress ActivationStatus = "in_progress"
	ActivationStatusCompleted  ActivationStatus = "completed"
	ActivationStatusFailed     ActivationStatus = "failed"
)

func (s ActivationStatus) Terminal() bool {
	return s == ActivationStatusCompleted || s == ActivationStatusFailed
}

// ChequeActivation is one redemption attempt against a cheque. At most
// one non-failed row exists per (cheque, user) pair.
type ChequeActivation struct {
	ID            int64            `json:"id"             db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	ChequeID      int64            `json:"cheque_id"      db:"cheque_id"      gorm:"column:cheque_id;not null;index"`
	Cheque        *Cheque          `json:"-"                                  gorm:"foreignKey:ChequeID;references:ID"`
	UserID        int64            `json:"user_id"        db:"user_id"        gorm:"column:user_id;not null;index"`
	Status        ActivationStatus `json:"status"         db:"status"         gorm:"column:status;not null;index"`
	FailedMessage *string          `json:"failed_message" db:"failed_message" gorm:"column:failed_message"`
	TransactionID *int64           `json:"transaction_id" db:"transaction_id" gorm:"column:transaction_id"` // payout credit, set on completion
	CreatedAt     time.Time        `json:"created_at"     db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time       `json:"processed_at"   db:"processed_at"   gorm:"column:processed_at"`
}

func (ChequeActivation) TableName() string { return "cheque_activations" }

// ActivationMessage is the redemption trigger published by the
// producer and consumed at-least-once by the activation processor.
type ActivationMessage struct {
	UserID       int64 `json:"user_id"`
	ChequeID     int64 `json:"cheque_id"`
	ActivationID int64 `json:"cheque_activation_id"`
}
