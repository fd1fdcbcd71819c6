package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/internal/services"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"github.com/rewardsys/rewards-core/pkg/prom"
)

type ActivationRepository interface {
	Get(ctx context.Context, id int64) (*model.ChequeActivation, error)
	CountCompleted(ctx context.Context, chequeID int64) (int64, error)
	Complete(ctx context.Context, id int64, transactionID int64) error
	Fail(ctx context.Context, id int64, reason string) error
}

type ChequeRepository interface {
	Get(ctx context.Context, id int64) (*model.Cheque, error)
	GetForUpdate(ctx context.Context, id int64) (*model.Cheque, error)
}

// errChequeExhausted is returned from inside the payout transaction
// when the completed-activation count already meets the limit; the
// caller turns it into a terminal failure instead of a retry.
var errChequeExhausted = errors.New("cheque activation limit exhausted")

// SubscriptionChecker is the external collaborator that knows whether a
// user is subscribed to a channel. A nil checker skips the requirement.
type SubscriptionChecker interface {
	IsSubscribed(ctx context.Context, userID int64, channel string) (bool, error)
}

// ActivationProcessor is the consumer half of the redemption workflow.
// It drives IN_PROGRESS -> {COMPLETED, FAILED}: the payout credit and
// the terminal transition commit in one database transaction, and the
// broker message is acknowledged only after that commit. Replays of a
// message whose activation is already terminal are acked without any
// new ledger write.
type ActivationProcessor struct {
	db          *pg.DB
	ledger      *services.LedgerService
	cheques     ChequeRepository
	activations ActivationRepository
	subs        SubscriptionChecker
	idempotency *IdempotencyService
}

func NewActivationProcessor(db *pg.DB, ledger *services.LedgerService, cheques ChequeRepository, activations ActivationRepository, subs SubscriptionChecker, idempotency *IdempotencyService) *ActivationProcessor {
	return &ActivationProcessor{
		db:          db,
		ledger:      ledger,
		cheques:     cheques,
		activations: activations,
		subs:        subs,
		idempotency: idempotency,
	}
}

func (p *ActivationProcessor) GetType() string {
	return "activation"
}

// Process handles one redemption trigger message.
// Returning nil acks the message; returning an error leaves it pending
// for redelivery (and eventually the dead-letter stream).
func (p *ActivationProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	start := time.Now()

	var msg model.ActivationMessage
	if err := json.Unmarshal(queueMessage.Data, &msg); err != nil {
		logger.Error("failed to unmarshal activation message", "error", err)
		return err // malformed, bounded redelivery then DLQ
	}

	messageID := "activation:" + strconv.FormatInt(msg.ActivationID, 10)

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			// Poison message: record a terminal failure and ack
			logger.Error("activation processing retries exhausted",
				"activation_id", msg.ActivationID,
				"cheque_id", msg.ChequeID,
				"user_id", msg.UserID)
			_ = p.failTerminal(ctx, msg.ActivationID, "processing retries exhausted")
			return nil
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	activation, err := p.activations.Get(ctx, msg.ActivationID)
	if err != nil {
		if errors.Is(err, repository.ErrActivationNotFound) {
			// The producer commits the row before the message becomes
			// visible, so a missing row is store lag: retry
			logger.Warn("activation row not found yet",
				"activation_id", msg.ActivationID, "cheque_id", msg.ChequeID)
			p.idempotency.MarkFailure(ctx, procCtx, err)
			return err
		}
		p.idempotency.MarkFailure(ctx, procCtx, err)
		return err
	}

	// Re-processing guard: a terminal activation is a no-op, skip
	// straight to acknowledge
	if activation.Status.Terminal() {
		p.idempotency.MarkSuccess(ctx, procCtx)
		return nil
	}

	cheque, reason, err := p.validate(ctx, activation, msg)
	if err != nil {
		p.idempotency.MarkFailure(ctx, procCtx, err)
		return err
	}
	if reason != "" {
		if err := p.failTerminal(ctx, activation.ID, reason); err != nil {
			p.idempotency.MarkFailure(ctx, procCtx, err)
			return err
		}
		logger.Info("activation rejected",
			"activation_id", activation.ID,
			"cheque_id", msg.ChequeID,
			"user_id", msg.UserID,
			"reason", reason)
		prom.IncActivationOutcome("failed")
		p.idempotency.MarkSuccess(ctx, procCtx)
		return nil
	}

	err = p.db.WithinTransaction(ctx, func(ctx context.Context) error {
		// The limit check must happen under the cheque row lock: the
		// producer's availability check only guards the same (cheque,
		// user) pair, so distinct users can race past it. Counting
		// completed activations here lets exactly ActivationLimit
		// redemptions through and fails the rest terminally.
		if _, err := p.cheques.GetForUpdate(ctx, cheque.ID); err != nil {
			return err
		}
		completed, err := p.activations.CountCompleted(ctx, cheque.ID)
		if err != nil {
			return err
		}
		if completed >= int64(cheque.ActivationLimit) {
			return errChequeExhausted
		}

		txn, err := p.ledger.Apply(ctx, services.ApplyParams{
			UserID:      activation.UserID,
			SourceID:    cheque.CreatorID,
			Operation:   model.OperationIncrement,
			Currency:    cheque.Currency,
			Amount:      cheque.Amount,
			Description: "cheque activation payout",
			Trace:       model.Trace{model.TraceCheque: cheque.ID},
			Initiator:   model.InitiatorSystem,
			CreatedBy:   activation.UserID,
		})
		if err != nil {
			return err
		}

		return p.activations.Complete(ctx, activation.ID, txn.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyTerminal) {
			// Another consumer finished this activation first; the
			// rollback above discarded our duplicate credit
			p.idempotency.MarkSuccess(ctx, procCtx)
			return nil
		}
		if errors.Is(err, errChequeExhausted) {
			if err := p.failTerminal(ctx, activation.ID, errChequeExhausted.Error()); err != nil {
				p.idempotency.MarkFailure(ctx, procCtx, err)
				return err
			}
			logger.Info("activation rejected",
				"activation_id", activation.ID,
				"cheque_id", msg.ChequeID,
				"user_id", msg.UserID,
				"reason", errChequeExhausted.Error())
			prom.IncActivationOutcome("failed")
			p.idempotency.MarkSuccess(ctx, procCtx)
			return nil
		}
		logger.Error("failed to complete activation",
			"activation_id", activation.ID,
			"cheque_id", msg.ChequeID,
			"user_id", msg.UserID,
			"error", err)
		p.idempotency.MarkFailure(ctx, procCtx, err)
		return err // transient, redeliver
	}

	prom.IncActivationOutcome("completed")
	prom.AddActivationProcessedDuration(time.Since(start).Seconds(), string(cheque.Type))
	p.idempotency.MarkSuccess(ctx, procCtx)

	logger.Info("activation completed",
		"activation_id", activation.ID,
		"cheque_id", cheque.ID,
		"user_id", activation.UserID,
		"amount", cheque.Amount,
		"currency", cheque.Currency)

	return nil
}

// validate re-checks the cheque at processing time; producer-time state
// is not trusted because the cheque may have been deleted since. It
// returns a non-empty reason for logical failures (terminal FAILED, not
// retried) and an error only for transient ones.
func (p *ActivationProcessor) validate(ctx context.Context, activation *model.ChequeActivation, msg model.ActivationMessage) (*model.Cheque, string, error) {
	cheque, err := p.cheques.Get(ctx, activation.ChequeID)
	if err != nil {
		if errors.Is(err, repository.ErrChequeNotFound) {
			return nil, "cheque no longer exists", nil
		}
		return nil, "", err
	}

	if cheque.DeletedAt != nil {
		return nil, "cheque was deleted", nil
	}

	if !cheque.CanRedeem(activation.UserID) {
		return nil, "cheque is bound to another user", nil
	}

	if p.subs != nil {
		for _, channel := range cheque.RequiredSubs {
			ok, err := p.subs.IsSubscribed(ctx, activation.UserID, channel)
			if err != nil {
				return nil, "", fmt.Errorf("check subscription %q: %w", channel, err)
			}
			if !ok {
				return nil, fmt.Sprintf("missing required subscription %q", channel), nil
			}
		}
	}

	return cheque, "", nil
}

// failTerminal records a terminal FAILED state. An activation that
// already reached a terminal state is left as is.
func (p *ActivationProcessor) failTerminal(ctx context.Context, activationID int64, reason string) error {
	err := p.db.WithinTransaction(ctx, func(ctx context.Context) error {
		return p.activations.Fail(ctx, activationID, reason)
	})
	if errors.Is(err, repository.ErrAlreadyTerminal) {
		return nil
	}
	return err
}
