package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Operation is how a ledger call mutates a balance.
type Operation string

const (
	OperationIncrement Operation = "increment"
	OperationDecrement Operation = "decrement"
	OperationOverride  Operation = "override"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusAborted   TransactionStatus = "aborted"
)

// Initiator identifies who asked for the balance change.
type Initiator string

const (
	InitiatorSystem Initiator = "system"
	InitiatorAdmin  Initiator = "admin"
	InitiatorUser   Initiator = "user"
)

// TraceType keys a trace entry to the business event that produced
// the transaction.
type TraceType string

const (
	TraceCheque TraceType = "cheque_id"
	TraceTask   TraceType = "task_id"
	TraceBet    TraceType = "bet_id"
)

// Trace links a transaction back to its originating business event.
// Stored as jsonb.
type Trace map[TraceType]int64

func (t Trace) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Trace) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return errors.New("unsupported trace source type")
	}
}

// Transaction is one immutable row of the ledger log. Rows are written
// once per ledger call and never updated or deleted.
type Transaction struct {
	ID                int64             `json:"id"                 db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	Operation         Operation         `json:"operation"          db:"operation"          gorm:"column:operation;not null"`
	Currency          Currency          `json:"currency"           db:"currency"           gorm:"column:currency;not null"`
	Amount            uint              `json:"amount"             db:"amount"             gorm:"column:amount;not null"`
	DestinationID     int64             `json:"destination_id"     db:"destination_id"     gorm:"column:destination_id;not null;index"`
	Destination       *User             `json:"-"                                          gorm:"foreignKey:DestinationID;references:ID"`
	DestinationBefore uint              `json:"destination_before" db:"destination_before" gorm:"column:destination_before;not null"`
	DestinationAfter  uint              `json:"destination_after"  db:"destination_after"  gorm:"column:destination_after;not null"`
	SourceID          int64             `json:"source_id"          db:"source_id"          gorm:"column:source_id;index"` // zero for system-issued credits
	SourceBefore      uint              `json:"source_before"      db:"source_before"      gorm:"column:source_before"`
	SourceAfter       uint              `json:"source_after"       db:"source_after"       gorm:"column:source_after"`
	Status            TransactionStatus `json:"status"             db:"status"             gorm:"column:status;not null"`
	Initiator         Initiator         `json:"initiator"          db:"initiator"          gorm:"column:initiator;not null"`
	Description       string            `json:"description"        db:"description"        gorm:"column:description"`
	Trace             Trace             `json:"trace"              db:"trace"              gorm:"column:trace;type:jsonb"`
	CreatedBy         int64             `json:"created_by"         db:"created_by"         gorm:"column:created_by;index"`
	CreatedAt         time.Time         `json:"created_at"         db:"created_at"         gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "transactions" }
