package processor

import (
	"context"
	"testing"
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
	"github.com/rewardsys/rewards-core/internal/queue"
	"github.com/rewardsys/rewards-core/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActivationProcessor(f *fixture, subs SubscriptionChecker) *ActivationProcessor {
	return NewActivationProcessor(f.db, f.ledger, f.cheques, f.activations, subs, f.idempotency)
}

func TestActivationProcessor_Payout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800) // escrow for the cheque already debited
	redeemer := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 200})
	activation := f.seedActivation(t, cheque.ID, redeemer.ID)

	p := newActivationProcessor(f, nil)
	require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

	balance, err := f.users.GetBalance(ctx, redeemer.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Equal(t, uint(200), balance)

	// the creator paid at generation time, not here
	balance, err = f.users.GetBalance(ctx, creator.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Equal(t, uint(800), balance)

	got, err := f.activations.Get(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusCompleted, got.Status)
	require.NotNil(t, got.TransactionID)
	require.NotNil(t, got.ProcessedAt)

	txn, err := f.transactions.Get(ctx, *got.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationIncrement, txn.Operation)
	assert.Equal(t, uint(200), txn.Amount)
	assert.Equal(t, cheque.ID, txn.Trace[model.TraceCheque])
}

func TestActivationProcessor_LimitExhaustedAtProcessingTime(t *testing.T) {
	// Two distinct users can both pass the producer-side availability
	// check before either payout commits; only the pair lock guards the
	// same user. The consumer must let exactly ActivationLimit payouts
	// through and fail the rest.
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	first := f.seedUser(t, 0)
	second := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 200, ActivationLimit: 1})

	a1 := f.seedActivation(t, cheque.ID, first.ID)
	a2 := f.seedActivation(t, cheque.ID, second.ID)

	p := newActivationProcessor(f, nil)
	require.NoError(t, p.Process(ctx, activationMessage(t, a1)))
	require.NoError(t, p.Process(ctx, activationMessage(t, a2)))

	got, err := f.activations.Get(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusCompleted, got.Status)

	got, err = f.activations.Get(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusFailed, got.Status)
	require.NotNil(t, got.FailedMessage)
	assert.Equal(t, "cheque activation limit exhausted", *got.FailedMessage)

	// total paid out equals the escrowed amount
	balance, err := f.users.GetBalance(ctx, first.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Equal(t, uint(200), balance)

	balance, err = f.users.GetBalance(ctx, second.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Zero(t, balance)

	completed, err := f.activations.CountCompleted(ctx, cheque.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)

	_, total, err := f.transactions.List(ctx, repository.TransactionFilter{DestinationID: &second.ID})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestActivationProcessor_MultiChequeHonorsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 100, ActivationLimit: 2})

	p := newActivationProcessor(f, nil)

	var statuses []model.ActivationStatus
	for i := 0; i < 3; i++ {
		redeemer := f.seedUser(t, 0)
		a := f.seedActivation(t, cheque.ID, redeemer.ID)
		require.NoError(t, p.Process(ctx, activationMessage(t, a)))

		got, err := f.activations.Get(ctx, a.ID)
		require.NoError(t, err)
		statuses = append(statuses, got.Status)
	}

	assert.Equal(t, []model.ActivationStatus{
		model.ActivationStatusCompleted,
		model.ActivationStatusCompleted,
		model.ActivationStatusFailed,
	}, statuses)
}

func TestActivationProcessor_RedeliveryAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	redeemer := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 200})
	activation := f.seedActivation(t, cheque.ID, redeemer.ID)

	p := newActivationProcessor(f, nil)
	require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

	t.Run("processed marker short-circuits", func(t *testing.T) {
		require.NoError(t, p.Process(ctx, activationMessage(t, activation)))
	})

	t.Run("terminal state guard holds without the marker", func(t *testing.T) {
		// a consumer on another host has no local redis marker but
		// still must not credit twice
		freshIdem := NewIdempotencyService(newTestRedis(t), DefaultIdempotencyConfig())
		p2 := NewActivationProcessor(f.db, f.ledger, f.cheques, f.activations, nil, freshIdem)
		require.NoError(t, p2.Process(ctx, activationMessage(t, activation)))
	})

	balance, err := f.users.GetBalance(ctx, redeemer.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Equal(t, uint(200), balance)

	_, total, err := f.transactions.List(ctx, repository.TransactionFilter{DestinationID: &redeemer.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestActivationProcessor_DeletedCheque(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	redeemer := f.seedUser(t, 0)
	deletedAt := time.Now()
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 200, DeletedAt: &deletedAt, DeletedBy: &creator.ID})
	activation := f.seedActivation(t, cheque.ID, redeemer.ID)

	p := newActivationProcessor(f, nil)
	require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

	got, err := f.activations.Get(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusFailed, got.Status)
	require.NotNil(t, got.FailedMessage)
	assert.Equal(t, "cheque was deleted", *got.FailedMessage)

	balance, err := f.users.GetBalance(ctx, redeemer.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestActivationProcessor_PersonalChequeWrongUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	bound := f.seedUser(t, 0)
	intruder := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{
		CreatorID:  creator.ID,
		Amount:     200,
		Type:       model.ChequeTypePersonal,
		RedeemerID: &bound.ID,
	})
	activation := f.seedActivation(t, cheque.ID, intruder.ID)

	p := newActivationProcessor(f, nil)
	require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

	got, err := f.activations.Get(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusFailed, got.Status)
	require.NotNil(t, got.FailedMessage)
	assert.Equal(t, "cheque is bound to another user", *got.FailedMessage)
}

func TestActivationProcessor_RequiredSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	redeemer := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{
		CreatorID:    creator.ID,
		Amount:       200,
		RequiredSubs: model.Subscriptions{"announcements"},
	})

	t.Run("missing subscription fails terminally", func(t *testing.T) {
		activation := f.seedActivation(t, cheque.ID, redeemer.ID)
		p := newActivationProcessor(f, &fakeSubscriptionChecker{subscribed: map[string]bool{}})

		require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

		got, err := f.activations.Get(ctx, activation.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ActivationStatusFailed, got.Status)
		require.NotNil(t, got.FailedMessage)
		assert.Equal(t, `missing required subscription "announcements"`, *got.FailedMessage)
	})

	t.Run("subscribed user is paid", func(t *testing.T) {
		subscriber := f.seedUser(t, 0)
		activation := f.seedActivation(t, cheque.ID, subscriber.ID)
		p := newActivationProcessor(f, &fakeSubscriptionChecker{subscribed: map[string]bool{"announcements": true}})

		require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

		balance, err := f.users.GetBalance(ctx, subscriber.ID, model.CurrencyGmeme)
		require.NoError(t, err)
		assert.Equal(t, uint(200), balance)
	})

	t.Run("checker outage is retried", func(t *testing.T) {
		another := f.seedUser(t, 0)
		activation := f.seedActivation(t, cheque.ID, another.ID)
		p := newActivationProcessor(f, &fakeSubscriptionChecker{err: assert.AnError})

		err := p.Process(ctx, activationMessage(t, activation))
		require.Error(t, err)

		got, err := f.activations.Get(ctx, activation.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ActivationStatusInProgress, got.Status)
	})
}

func TestActivationProcessor_MissingActivationRowIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := newActivationProcessor(f, nil)
	err := p.Process(ctx, activationMessage(t, &model.ChequeActivation{ID: 404, ChequeID: 1, UserID: 1}))
	assert.ErrorIs(t, err, repository.ErrActivationNotFound)

	count, err := f.idempotency.GetRetryCount(ctx, "activation:404")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivationProcessor_RetriesExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creator := f.seedUser(t, 800)
	redeemer := f.seedUser(t, 0)
	cheque := f.seedCheque(t, &model.Cheque{CreatorID: creator.ID, Amount: 200, RequiredSubs: model.Subscriptions{"vip"}})
	activation := f.seedActivation(t, cheque.ID, redeemer.ID)

	config := DefaultIdempotencyConfig()
	config.MaxRetries = 2
	f.idempotency = NewIdempotencyService(newTestRedis(t), config)
	p := newActivationProcessor(f, &fakeSubscriptionChecker{err: assert.AnError})

	for i := 0; i < config.MaxRetries; i++ {
		require.Error(t, p.Process(ctx, activationMessage(t, activation)))
	}

	// the poisoned message is acked with a terminal failure
	require.NoError(t, p.Process(ctx, activationMessage(t, activation)))

	got, err := f.activations.Get(ctx, activation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActivationStatusFailed, got.Status)

	balance, err := f.users.GetBalance(ctx, redeemer.ID, model.CurrencyGmeme)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestActivationProcessor_MalformedPayload(t *testing.T) {
	f := newFixture(t)

	p := newActivationProcessor(f, nil)
	err := p.Process(context.Background(), &queue.Message{ID: "0-1", Data: []byte("not json")})
	assert.Error(t, err)
}
