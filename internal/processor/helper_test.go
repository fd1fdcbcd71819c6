package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/internal/services"
	"github.com/rewardsys/rewards-core/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	db           *pg.DB
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	cheques      *repository.ChequeRepository
	activations  *repository.ActivationRepository
	mailings     *repository.MailingRepository
	ledger       *services.LedgerService
	idempotency  *IdempotencyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = gormDB.AutoMigrate(
		&repository.UserEntity{},
		&repository.TransactionEntity{},
		&repository.ChequeEntity{},
		&repository.ActivationEntity{},
		&repository.MailingEntity{},
		&repository.MailingMessageEntity{},
	)
	require.NoError(t, err)

	db := pg.NewWithConnections(gormDB, gormDB)

	f := &fixture{
		db:           db,
		users:        repository.NewUserRepository(db),
		transactions: repository.NewTransactionRepository(db),
		cheques:      repository.NewChequeRepository(db),
		activations:  repository.NewActivationRepository(db),
		mailings:     repository.NewMailingRepository(db),
	}
	f.ledger = services.NewLedgerService(db, f.users, f.transactions)
	f.idempotency = NewIdempotencyService(newTestRedis(t), DefaultIdempotencyConfig())
	return f
}

func (f *fixture) seedUser(t *testing.T, gmeme uint) *model.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), &model.User{GmemeBalance: gmeme})
	require.NoError(t, err)
	return u
}

func (f *fixture) seedCheque(t *testing.T, c *model.Cheque) *model.Cheque {
	t.Helper()
	if c.Type == "" {
		c.Type = model.ChequeTypeMulti
	}
	if c.Currency == "" {
		c.Currency = model.CurrencyGmeme
	}
	if c.ActivationLimit == 0 {
		c.ActivationLimit = 1
	}
	created, err := f.cheques.Create(context.Background(), c)
	require.NoError(t, err)
	return created
}

func (f *fixture) seedActivation(t *testing.T, chequeID, userID int64) *model.ChequeActivation {
	t.Helper()
	a, err := f.activations.Create(context.Background(), &model.ChequeActivation{
		ChequeID: chequeID,
		UserID:   userID,
		Status:   model.ActivationStatusInProgress,
	})
	require.NoError(t, err)
	return a
}

func activationMessage(t *testing.T, a *model.ChequeActivation) *queue.Message {
	t.Helper()
	data, err := json.Marshal(model.ActivationMessage{
		UserID:       a.UserID,
		ChequeID:     a.ChequeID,
		ActivationID: a.ID,
	})
	require.NoError(t, err)
	return &queue.Message{ID: "0-1", Data: data}
}

type fakeSubscriptionChecker struct {
	subscribed map[string]bool
	err        error
}

func (f *fakeSubscriptionChecker) IsSubscribed(_ context.Context, _ int64, channel string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.subscribed[channel], nil
}
