package services

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/rewardsys/rewards-core/pkg/pg"
	redisadapter "github.com/rewardsys/rewards-core/pkg/redis"
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
	ledger       *LedgerService
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
	f.ledger = NewLedgerService(db, f.users, f.transactions)
	return f
}

// newTestQueue backs a queue with an in-process redis.
func newTestQueue(t *testing.T, name string) (*miniredis.Miniredis, redisadapter.RedisAdapter, *queue.Queue) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redisadapter.NewRedisAdapter("", &redis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.NewQueue(adapter, queue.QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
	})
	require.NoError(t, err)

	return mr, adapter, q
}
