package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/pkg/logger"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"github.com/rewardsys/rewards-core/pkg/redis"
)

var (
	ErrMultipleActivation = errors.New("multiple activation forbidden")
	ErrWrongPassword      = errors.New("wrong cheque password")
)

type ActivationRepository interface {
	Create(ctx context.Context, a *model.ChequeActivation) (*model.ChequeActivation, error)
	Get(ctx context.Context, id int64) (*model.ChequeActivation, error)
	ExistsNonFailed(ctx context.Context, chequeID, userID int64) (bool, error)
}

const activationLockPrefix = "activation:lock:"

// pairLock is the short-lived exclusive marker on (cheque, user). It is
// released unconditionally when the guarded section finishes, success
// or failure, through the returned release func.
type pairLock struct {
	redis redis.RedisAdapter
	ttl   time.Duration
}

func (l *pairLock) acquire(chequeID, userID int64) (func(), error) {
	key := fmt.Sprintf("%s%d:%d", activationLockPrefix, chequeID, userID)
	token := []byte(uuid.NewString())

	acquired, err := l.redis.SetNX(key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire activation lock: %w", err)
	}
	if !acquired {
		return nil, ErrMultipleActivation
	}

	return func() {
		if err := l.redis.Del(key); err != nil {
			logger.Warn("failed to release activation lock", "key", key, "error", err)
		}
	}, nil
}

// ActivationService is the producer half of the redemption workflow. It
// persists the IN_PROGRESS attempt and enqueues the trigger message in
// one causally ordered step: the broker publish happens inside the
// database transaction closure, so a failed publish rolls the row back
// and a persisted row always has its message enqueued.
type ActivationService struct {
	db          *pg.DB
	cheques     ChequeRepository
	activations ActivationRepository
	queue       *queue.Queue
	lock        *pairLock
}

func NewActivationService(db *pg.DB, cheques ChequeRepository, activations ActivationRepository, q *queue.Queue, redisAdapter redis.RedisAdapter, lockTTL time.Duration) *ActivationService {
	if lockTTL == 0 {
		lockTTL = 10 * time.Second
	}
	return &ActivationService{
		db:          db,
		cheques:     cheques,
		activations: activations,
		queue:       q,
		lock:        &pairLock{redis: redisAdapter, ttl: lockTTL},
	}
}

// Activate starts a redemption attempt. It returns true only when both
// the database commit and the broker publish succeeded; the payout
// itself happens asynchronously in the consumer.
func (s *ActivationService) Activate(ctx context.Context, chequeID, userID int64, password *string) (bool, error) {
	cheque, err := s.cheques.GetActive(ctx, chequeID)
	if err != nil {
		return false, ErrChequeInactive
	}

	if cheque.Password != nil && (password == nil || *password != *cheque.Password) {
		return false, ErrWrongPassword
	}

	release, err := s.lock.acquire(chequeID, userID)
	if err != nil {
		return false, err
	}
	defer release()

	err = s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		exists, err := s.activations.ExistsNonFailed(ctx, chequeID, userID)
		if err != nil {
			return fmt.Errorf("check existing activation: %w", err)
		}
		if exists {
			return ErrMultipleActivation
		}

		activation, err := s.activations.Create(ctx, &model.ChequeActivation{
			ChequeID: chequeID,
			UserID:   userID,
			Status:   model.ActivationStatusInProgress,
		})
		if err != nil {
			return fmt.Errorf("create activation: %w", err)
		}

		// Broker commit first; only then does the surrounding database
		// transaction commit. A publish failure leaves no orphan
		// IN_PROGRESS row behind.
		_, err = s.queue.PublishJSON(ctx, model.ActivationMessage{
			UserID:       userID,
			ChequeID:     chequeID,
			ActivationID: activation.ID,
		}, map[string]string{"type": "activation"})
		if err != nil {
			return fmt.Errorf("publish activation message: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// GetActivation returns one redemption attempt.
func (s *ActivationService) GetActivation(ctx context.Context, id int64) (*model.ChequeActivation, error) {
	return s.activations.Get(ctx, id)
}
