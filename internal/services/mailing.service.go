package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/pkg/pg"
)

var ErrEmptyMailing = errors.New("mailing needs at least one recipient")

type MailingRepository interface {
	Create(ctx context.Context, m *model.Mailing) (*model.Mailing, error)
	Get(ctx context.Context, id int64) (*model.Mailing, error)
	CreateMessages(ctx context.Context, messages []*model.MailingMessage) ([]*model.MailingMessage, error)
	CountUnfinishedMessages(ctx context.Context, mailingID int64) (int64, error)
	Finalize(ctx context.Context, id int64, status model.MailingStatus) error
	CancelPending(ctx context.Context, mailingID int64) (int64, error)
}

// UserLister enumerates recipients for a full broadcast.
type UserLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

// MailingService fans a broadcast job out into per-recipient rows and
// one queue message per recipient, published as a single broker
// transaction. The last message carries IsLast so the consumer can
// finalize the parent job.
type MailingService struct {
	db       *pg.DB
	mailings MailingRepository
	users    UserLister
	queue    *queue.Queue
}

func NewMailingService(db *pg.DB, mailings MailingRepository, users UserLister, q *queue.Queue) *MailingService {
	return &MailingService{
		db:       db,
		mailings: mailings,
		users:    users,
		queue:    q,
	}
}

// Create persists the job and its fan-out rows and enqueues the whole
// batch all-or-nothing. A publish failure rolls everything back: no
// half-announced mailing can exist.
func (s *MailingService) Create(ctx context.Context, createdBy int64, text string, destinationIDs []int64) (*model.Mailing, error) {
	if len(destinationIDs) == 0 {
		return nil, ErrEmptyMailing
	}

	var created *model.Mailing
	err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.mailings.Create(ctx, &model.Mailing{
			CreatedBy: createdBy,
			Text:      text,
			Status:    model.MailingStatusInProgress,
			Total:     len(destinationIDs),
		})
		if err != nil {
			return fmt.Errorf("create mailing: %w", err)
		}

		rows := make([]*model.MailingMessage, len(destinationIDs))
		for i, dest := range destinationIDs {
			rows[i] = &model.MailingMessage{
				MailingID:     created.ID,
				DestinationID: dest,
				Status:        model.MailingMessageStatusInQueue,
			}
		}
		rows, err = s.mailings.CreateMessages(ctx, rows)
		if err != nil {
			return fmt.Errorf("create mailing messages: %w", err)
		}

		items := make([]interface{}, len(rows))
		for i, row := range rows {
			items[i] = model.NotificationMessage{
				DestinationID:    row.DestinationID,
				Text:             text,
				MailingID:        created.ID,
				MailingMessageID: row.ID,
				IsLast:           i == len(rows)-1,
			}
		}

		if _, err := s.queue.PublishBatchJSONTx(ctx, items, map[string]string{"type": "mailing"}); err != nil {
			return fmt.Errorf("publish mailing batch: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateBroadcast sends to every known user.
func (s *MailingService) CreateBroadcast(ctx context.Context, createdBy int64, text string) (*model.Mailing, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return s.Create(ctx, createdBy, text, ids)
}

// Cancel marks every still-queued recipient canceled. Messages already
// picked up finish on their own; once every row is terminal the job is
// finalized as canceled.
func (s *MailingService) Cancel(ctx context.Context, mailingID int64) error {
	return s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.mailings.CancelPending(ctx, mailingID); err != nil {
			return err
		}

		unfinished, err := s.mailings.CountUnfinishedMessages(ctx, mailingID)
		if err != nil {
			return err
		}
		if unfinished == 0 {
			return s.mailings.Finalize(ctx, mailingID, model.MailingStatusCanceled)
		}
		return nil
	})
}

func (s *MailingService) Get(ctx context.Context, id int64) (*model.Mailing, error) {
	return s.mailings.Get(ctx, id)
}
