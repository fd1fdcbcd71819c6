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
	ErrMailingNotFound        = errors.New("mailing not found")
	ErrMailingMessageNotFound = errors.New("mailing message not found")
)

type MailingRepository struct {
	*pg.DB
}

func NewMailingRepository(db *pg.DB) *MailingRepository {
	return &MailingRepository{
		db,
	}
}

func (r *MailingRepository) Create(ctx context.Context, m *model.Mailing) (*model.Mailing, error) {
	entity := toMailingEntity(m)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMailingModel(entity), nil
}

func (r *MailingRepository) Get(ctx context.Context, id int64) (*model.Mailing, error) {
	var entity MailingEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMailingNotFound
		}
		return nil, err
	}

	return toMailingModel(&entity), nil
}

func (r *MailingRepository) CreateMessages(ctx context.Context, messages []*model.MailingMessage) ([]*model.MailingMessage, error) {
	entities := make([]*MailingMessageEntity, len(messages))
	for i, m := range messages {
		entities[i] = toMailingMessageEntity(m)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(&entities).Error; err != nil {
		return nil, err
	}

	out := make([]*model.MailingMessage, len(entities))
	for i, e := range entities {
		out[i] = toMailingMessageModel(e)
	}
	return out, nil
}

func (r *MailingRepository) GetMessage(ctx context.Context, id int64) (*model.MailingMessage, error) {
	var entity MailingMessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMailingMessageNotFound
		}
		return nil, err
	}

	return toMailingMessageModel(&entity), nil
}

// SetMessageStatus moves one recipient row to the given state. Rows
// already terminal are left untouched so redelivered fan-out messages
// cannot flip a finished recipient.
func (r *MailingRepository) SetMessageStatus(ctx context.Context, id int64, status model.MailingMessageStatus, errMsg *string) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	if status.Terminal() {
		now := time.Now()
		updates["processed_at"] = &now
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&MailingMessageEntity{}).
		Where("id = ?", id).
		Where("status IN ?", []model.MailingMessageStatus{
			model.MailingMessageStatusInQueue,
			model.MailingMessageStatusInProgress,
		}).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrMailingMessageNotFound
	}

	return nil
}

// CountUnfinishedMessages counts rows not yet in a terminal state.
func (r *MailingRepository) CountUnfinishedMessages(ctx context.Context, mailingID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&MailingMessageEntity{}).
		Where("mailing_id = ?", mailingID).
		Where("status IN ?", []model.MailingMessageStatus{
			model.MailingMessageStatusInQueue,
			model.MailingMessageStatusInProgress,
		}).
		Count(&count).
		Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Finalize marks the mailing finished once every row is terminal.
func (r *MailingRepository) Finalize(ctx context.Context, id int64, status model.MailingStatus) error {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&MailingEntity{}).
		Where("id = ?", id).
		Where("status = ?", model.MailingStatusInProgress).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrMailingNotFound
	}

	return nil
}

// ListMessages returns every recipient row of a mailing.
func (r *MailingRepository) ListMessages(ctx context.Context, mailingID int64) ([]*model.MailingMessage, error) {
	var entities []*MailingMessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("mailing_id = ?", mailingID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	messages := make([]*model.MailingMessage, len(entities))
	for i, e := range entities {
		messages[i] = toMailingMessageModel(e)
	}
	return messages, nil
}

// CancelPending cancels every still-queued recipient of a mailing and
// returns how many rows were affected.
func (r *MailingRepository) CancelPending(ctx context.Context, mailingID int64) (int64, error) {
	now := time.Now()
	result := r.Write(ctx).WithContext(ctx).
		Model(&MailingMessageEntity{}).
		Where("mailing_id = ?", mailingID).
		Where("status = ?", model.MailingMessageStatusInQueue).
		Updates(map[string]interface{}{
			"status":       model.MailingMessageStatusCanceled,
			"processed_at": &now,
		})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
