package processor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/rewardsys/rewards-core/pkg/prom"
)

type MailingRepository interface {
	GetMessage(ctx context.Context, id int64) (*model.MailingMessage, error)
	SetMessageStatus(ctx context.Context, id int64, status model.MailingMessageStatus, errMsg *string) error
	CountUnfinishedMessages(ctx context.Context, mailingID int64) (int64, error)
	Finalize(ctx context.Context, mailingID int64, status model.MailingStatus) error
}

// Notifier delivers one notification to its destination.
type Notifier interface {
	Send(ctx context.Context, msg *model.NotificationMessage) error
}

// MailingProcessor delivers per-recipient mailing messages. Delivery
// outcomes are final either way: a failed send marks the row FAILED and
// acks, it is never retried. The consumer carrying the IsLast marker
// finalizes the parent mailing once no unfinished rows remain.
type MailingProcessor struct {
	mailings MailingRepository
	notifier Notifier
}

func NewMailingProcessor(mailings MailingRepository, notifier Notifier) *MailingProcessor {
	return &MailingProcessor{
		mailings: mailings,
		notifier: notifier,
	}
}

func (p *MailingProcessor) GetType() string {
	return "mailing"
}

func (p *MailingProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var msg model.NotificationMessage
	if err := json.Unmarshal(queueMessage.Data, &msg); err != nil {
		logger.Error("failed to unmarshal notification message", "error", err)
		return err
	}

	row, err := p.mailings.GetMessage(ctx, msg.MailingMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrMailingMessageNotFound) {
			logger.Warn("mailing message row not found yet",
				"mailing_message_id", msg.MailingMessageID, "mailing_id", msg.MailingID)
		}
		return err
	}

	// Redelivered after the outcome was recorded, or canceled while in
	// the queue. Either way there is nothing left to send.
	if row.Status.Terminal() {
		if msg.IsLast {
			return p.finalizeMailing(ctx, msg.MailingID)
		}
		return nil
	}

	if err := p.mailings.SetMessageStatus(ctx, row.ID, model.MailingMessageStatusInProgress, nil); err != nil {
		return err
	}

	if err := p.notifier.Send(ctx, &msg); err != nil {
		logger.Warn("notification delivery failed",
			"mailing_message_id", row.ID,
			"mailing_id", msg.MailingID,
			"destination_id", msg.DestinationID,
			"error", err)
		errText := err.Error()
		if err := p.mailings.SetMessageStatus(ctx, row.ID, model.MailingMessageStatusFailed, &errText); err != nil {
			return err
		}
		prom.IncMailingDelivered("failed")
	} else {
		if err := p.mailings.SetMessageStatus(ctx, row.ID, model.MailingMessageStatusCompleted, nil); err != nil {
			return err
		}
		prom.IncMailingDelivered("completed")
	}

	if msg.IsLast {
		return p.finalizeMailing(ctx, msg.MailingID)
	}
	return nil
}

// finalizeMailing closes the parent job once every per-recipient row
// has reached a terminal state. The count can still be non-zero here
// when slower consumers hold earlier messages; the stragglers' own
// status updates do not finalize, so cancellation sweeps catch the
// remainder via Cancel.
func (p *MailingProcessor) finalizeMailing(ctx context.Context, mailingID int64) error {
	unfinished, err := p.mailings.CountUnfinishedMessages(ctx, mailingID)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return nil
	}

	err = p.mailings.Finalize(ctx, mailingID, model.MailingStatusCompleted)
	if err != nil {
		// A raced finalize already closed the mailing
		if errors.Is(err, repository.ErrMailingNotFound) {
			return nil
		}
		return err
	}

	logger.Info("mailing completed", "mailing_id", mailingID)
	return nil
}
