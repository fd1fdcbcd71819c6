package model

import "time"

type MailingStatus string

const (
	MailingStatusInProgress MailingStatus = "in_progress"
	MailingStatusCompleted  MailingStatus = "completed"
	MailingStatusCanceled   MailingStatus = "canceled"
)

// MailingMessageStatus tracks one recipient independently of the
// parent job.
type MailingMessageStatus string

const (
	MailingMessageStatusInQueue    MailingMessageStatus = "in_queue"
	MailingMessageStatusInProgress MailingMessageStatus = "in_progress"
	MailingMessageStatusCompleted  MailingMessageStatus = "completed"
	MailingMessageStatusFailed     MailingMessageStatus = "failed"
	MailingMessageStatusCanceled   MailingMessageStatus = "canceled"
)

func (s MailingMessageStatus) Terminal() bool {
	switch s {
	case MailingMessageStatusCompleted, MailingMessageStatusFailed, MailingMessageStatusCanceled:
		return true
	}
	return false
}

// Mailing is a broadcast job fanned out to per-recipient rows.
type Mailing struct {
	ID         int64         `json:"id"          db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	CreatedBy  int64         `json:"created_by"  db:"created_by"  gorm:"column:created_by;not null;index"`
	Text       string        `json:"text"        db:"text"        gorm:"column:text;not null"`
	Status     MailingStatus `json:"status"      db:"status"      gorm:"column:status;not null;index"`
	Total      int           `json:"total"       db:"total"       gorm:"column:total;not null"`
	CreatedAt  time.Time     `json:"created_at"  db:"created_at"  gorm:"column:created_at;autoCreateTime"`
	FinishedAt *time.Time    `json:"finished_at" db:"finished_at" gorm:"column:finished_at"`
}

func (Mailing) TableName() string { return "mailings" }

type MailingMessage struct {
	ID            int64                `json:"id"             db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	MailingID     int64                `json:"mailing_id"     db:"mailing_id"     gorm:"column:mailing_id;not null;index"`
	Mailing       *Mailing             `json:"-"                                  gorm:"foreignKey:MailingID;references:ID;constraint:OnDelete:CASCADE"`
	DestinationID int64                `json:"destination_id" db:"destination_id" gorm:"column:destination_id;not null;index"`
	Status        MailingMessageStatus `json:"status"         db:"status"         gorm:"column:status;not null;index"`
	Error         *string              `json:"error"          db:"error"          gorm:"column:error"`
	CreatedAt     time.Time            `json:"created_at"     db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time           `json:"processed_at"   db:"processed_at"   gorm:"column:processed_at"`
}

func (MailingMessage) TableName() string { return "mailing_messages" }

// NotificationMessage is the per-recipient fan-out payload. The last
// message of a mailing carries IsLast so the consumer can finalize the
// parent job once every row is terminal.
type NotificationMessage struct {
	DestinationID    int64    `json:"destination_id"`
	Text             string   `json:"message_text"`
	ButtonMarkup     string   `json:"button_markup,omitempty"`
	AttachmentRefs   []string `json:"attachment_refs,omitempty"`
	MailingID        int64    `json:"parent_job_id"`
	MailingMessageID int64    `json:"per_recipient_job_id"`
	IsLast           bool     `json:"is_last"`
}
