package repository

import (
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
)

type MailingEntity struct {
	ID         int64               `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	CreatedBy  int64               `db:"created_by"  gorm:"column:created_by;not null;index"`
	Text       string              `db:"text"        gorm:"column:text;not null"`
	Status     model.MailingStatus `db:"status"      gorm:"column:status;not null;index"`
	Total      int                 `db:"total"       gorm:"column:total;not null"`
	CreatedAt  time.Time           `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
	FinishedAt *time.Time          `db:"finished_at" gorm:"column:finished_at"`
}

func (MailingEntity) TableName() string {
	return "mailings"
}

type MailingMessageEntity struct {
	ID            int64                      `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	MailingID     int64                      `db:"mailing_id"     gorm:"column:mailing_id;not null;index"`
	DestinationID int64                      `db:"destination_id" gorm:"column:destination_id;not null;index"`
	Status        model.MailingMessageStatus `db:"status"         gorm:"column:status;not null;index"`
	Error         *string                    `db:"error"          gorm:"column:error"`
	CreatedAt     time.Time                  `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time                 `db:"processed_at"   gorm:"column:processed_at"`
}

func (MailingMessageEntity) TableName() string {
	return "mailing_messages"
}

func toMailingEntity(m *model.Mailing) *MailingEntity {
	if m == nil {
		return nil
	}
	return &MailingEntity{
		ID:         m.ID,
		CreatedBy:  m.CreatedBy,
		Text:       m.Text,
		Status:     m.Status,
		Total:      m.Total,
		CreatedAt:  m.CreatedAt,
		FinishedAt: m.FinishedAt,
	}
}

func toMailingModel(e *MailingEntity) *model.Mailing {
	if e == nil {
		return nil
	}
	return &model.Mailing{
		ID:         e.ID,
		CreatedBy:  e.CreatedBy,
		Text:       e.Text,
		Status:     e.Status,
		Total:      e.Total,
		CreatedAt:  e.CreatedAt,
		FinishedAt: e.FinishedAt,
	}
}

func toMailingMessageEntity(m *model.MailingMessage) *MailingMessageEntity {
	if m == nil {
		return nil
	}
	return &MailingMessageEntity{
		ID:            m.ID,
		MailingID:     m.MailingID,
		DestinationID: m.DestinationID,
		Status:        m.Status,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

func toMailingMessageModel(e *MailingMessageEntity) *model.MailingMessage {
	if e == nil {
		return nil
	}
	return &model.MailingMessage{
		ID:            e.ID,
		MailingID:     e.MailingID,
		DestinationID: e.DestinationID,
		Status:        e.Status,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
		ProcessedAt:   e.ProcessedAt,
	}
}
