package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kijumbe_service/internal/group"
	"kijumbe_service/internal/notify"
	"kijumbe_service/internal/wallet"
)

type testEnv struct {
	db      *gorm.DB
	wallets *wallet.Service
	groups  *group.Service
	ledger  *Service
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(10000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&wallet.Wallet{}, &wallet.Transaction{},
		&group.Group{}, &group.Member{},
		&Contribution{}, &Payment{},
	))

	hub := notify.NewHub()
	walletRepo := wallet.NewWalletRepositoryImpl(db)
	groupRepo := group.NewGroupRepositoryImpl(db)
	ledgerRepo := NewLedgerRepositoryImpl(db)
	return &testEnv{
		db:      db,
		wallets: wallet.NewService(db, walletRepo, hub),
		groups:  group.NewService(db, groupRepo, hub),
		ledger:  NewService(db, ledgerRepo, groupRepo, walletRepo, hub),
	}
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.wallets.ApplyTransaction(context.Background(), wallet.TransactionRequest{
		UserID:          userID,
		TransactionType: wallet.TxTypeDeposit,
		Amount:          decimal.NewFromInt(amount),
		ReferenceID:     uuid.NewString(),
	})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := e.wallets.GetBalance(context.Background(), userID, "")
	require.NoError(t, err)
	return w.Balance
}

func (e *testEnv) contribute(t *testing.T, groupID, userID string, amount int64) *Contribution {
	t.Helper()
	c, err := e.ledger.RecordContribution(context.Background(), ContributionRequest{
		GroupID:     groupID,
		UserID:      userID,
		Amount:      decimal.NewFromInt(amount),
		ReferenceID: uuid.NewString(),
	})
	require.NoError(t, err)
	return c
}

// newGroup creates a group of the given capacity with every seat filled
// and every member funded.
func (e *testEnv) newGroup(t *testing.T, capacity int, contribution int64, funding int64) (*group.Group, []string) {
	t.Helper()
	organizerID := uuid.NewString()
	g, err := e.groups.CreateGroup(context.Background(), organizerID, group.CreateGroupParams{
		Name:               "chama",
		MaxMembers:         capacity,
		ContributionAmount: decimal.NewFromInt(contribution),
		RotationDuration:   30,
	})
	require.NoError(t, err)

	users := []string{organizerID}
	for i := 1; i < capacity; i++ {
		userID := uuid.NewString()
		_, err := e.groups.AddMember(context.Background(), g.GroupID, userID)
		require.NoError(t, err)
		users = append(users, userID)
	}
	for _, userID := range users {
		e.fund(t, userID, funding)
	}
	return g, users
}

// Scenario A: three members contribute 10000 each; the payout credits
// the member at position 1 with the pooled 30000 and advances the
// rotation.
func TestFullRotationPayout(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)

	for _, userID := range users {
		env.contribute(t, g.GroupID, userID, 10000)
	}

	payment, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.NoError(t, err)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, 1, payment.Rotation)
	assert.Equal(t, users[0], payment.RecipientID)

	updated, err := env.groups.GetGroup(context.Background(), g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentRotation)

	// Recipient nets +20000 against their own contribution; the others
	// are down their contribution. Zero-sum within the group.
	require.True(t, env.balance(t, users[0]).Equal(decimal.NewFromInt(30000)))
	require.True(t, env.balance(t, users[1]).Equal(decimal.Zero))
	require.True(t, env.balance(t, users[2]).Equal(decimal.Zero))
}

// Scenario B: an overdrawing contribution fails with insufficient funds
// and leaves no transaction or contribution row behind.
func TestContributionInsufficientBalance(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)
	poorUser := users[1]

	// Drain below the contribution amount first.
	_, err := env.wallets.ApplyTransaction(context.Background(), wallet.TransactionRequest{
		UserID:          poorUser,
		TransactionType: wallet.TxTypeWithdrawal,
		Amount:          decimal.NewFromInt(5000),
		ReferenceID:     uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = env.ledger.RecordContribution(context.Background(), ContributionRequest{
		GroupID:     g.GroupID,
		UserID:      poorUser,
		Amount:      decimal.NewFromInt(10000),
		ReferenceID: uuid.NewString(),
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	var contributionCount int64
	require.NoError(t, env.db.Model(&Contribution{}).
		Where("group_id = ?", g.GroupID).Count(&contributionCount).Error)
	assert.Zero(t, contributionCount)

	var debitCount int64
	require.NoError(t, env.db.Model(&wallet.Transaction{}).
		Where("user_id = ? AND transaction_type = ?", poorUser, wallet.TxTypeContributionDebit).
		Count(&debitCount).Error)
	assert.Zero(t, debitCount)

	require.True(t, env.balance(t, poorUser).Equal(decimal.NewFromInt(5000)))
}

// Scenario D: a non-organizer cannot trigger a payout and nothing moves.
func TestPayoutUnauthorized(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)
	for _, userID := range users {
		env.contribute(t, g.GroupID, userID, 10000)
	}

	_, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[1])
	require.ErrorIs(t, err, group.ErrUnauthorized)

	updated, err := env.groups.GetGroup(context.Background(), g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentRotation)
	for _, userID := range users {
		require.True(t, env.balance(t, userID).Equal(decimal.Zero))
	}
}

func TestContributionNotAMember(t *testing.T) {
	env := setupEnv(t)
	g, _ := env.newGroup(t, 3, 10000, 10000)

	stranger := uuid.NewString()
	env.fund(t, stranger, 10000)
	_, err := env.ledger.RecordContribution(context.Background(), ContributionRequest{
		GroupID:     g.GroupID,
		UserID:      stranger,
		Amount:      decimal.NewFromInt(10000),
		ReferenceID: uuid.NewString(),
	})
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestIdempotentContribution(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 20000)

	refID := uuid.NewString()
	req := ContributionRequest{
		GroupID:     g.GroupID,
		UserID:      users[1],
		Amount:      decimal.NewFromInt(10000),
		ReferenceID: refID,
	}
	c1, err := env.ledger.RecordContribution(context.Background(), req)
	require.NoError(t, err)
	c2, err := env.ledger.RecordContribution(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, c1.ContributionID, c2.ContributionID)
	require.True(t, env.balance(t, users[1]).Equal(decimal.NewFromInt(10000)),
		"the same reference must debit exactly once")

	var contributionCount int64
	require.NoError(t, env.db.Model(&Contribution{}).
		Where("reference_id = ?", refID).Count(&contributionCount).Error)
	assert.EqualValues(t, 1, contributionCount)
}

func TestDuplicatePayoutRejected(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)
	for _, userID := range users {
		env.contribute(t, g.GroupID, userID, 10000)
	}

	_, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.NoError(t, err)

	// The rotation advanced, so a replayed payout finds nothing to pay.
	_, err = env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.ErrorIs(t, err, ErrNoContributions)

	payments, err := env.ledger.ListPayments(context.Background(), g.GroupID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestLateContributionRollsForward(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 30000)
	for _, userID := range users {
		env.contribute(t, g.GroupID, userID, 10000)
	}
	_, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.NoError(t, err)

	// Recorded after the rotation advanced: counts toward rotation 2,
	// never the paid-out rotation 1.
	late := env.contribute(t, g.GroupID, users[1], 10000)
	assert.Equal(t, 2, late.Rotation)
}

func TestPartialAndExtraContributionsAggregate(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 2, 10000, 30000)

	env.contribute(t, g.GroupID, users[0], 4000)
	env.contribute(t, g.GroupID, users[0], 6000)
	env.contribute(t, g.GroupID, users[1], 12000)

	payment, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.NoError(t, err)
	require.True(t, payment.Amount.Equal(decimal.NewFromInt(22000)))
}

func TestPayoutWithoutContributions(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)

	_, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
	require.ErrorIs(t, err, ErrNoContributions)
}

func TestPayoutNoRecipientForRotation(t *testing.T) {
	env := setupEnv(t)
	organizerID := uuid.NewString()
	g, err := env.groups.CreateGroup(context.Background(), organizerID, group.CreateGroupParams{
		Name:               "chama",
		MaxMembers:         3,
		ContributionAmount: decimal.NewFromInt(10000),
		RotationDuration:   30,
	})
	require.NoError(t, err)
	env.fund(t, organizerID, 30000)

	// Only position 1 is seated; rotation 2 has no designated recipient.
	env.contribute(t, g.GroupID, organizerID, 10000)
	_, err = env.ledger.ProcessPayout(context.Background(), g.GroupID, organizerID)
	require.NoError(t, err)

	env.contribute(t, g.GroupID, organizerID, 10000)
	_, err = env.ledger.ProcessPayout(context.Background(), g.GroupID, organizerID)
	require.ErrorIs(t, err, ErrNoRecipient)
}

func TestPayoutCreatesRecipientWallet(t *testing.T) {
	env := setupEnv(t)
	organizerID := uuid.NewString()
	g, err := env.groups.CreateGroup(context.Background(), organizerID, group.CreateGroupParams{
		Name:               "chama",
		MaxMembers:         2,
		ContributionAmount: decimal.NewFromInt(10000),
		RotationDuration:   30,
	})
	require.NoError(t, err)

	// The joiner never deposits, so no wallet row exists for them.
	joinerID := uuid.NewString()
	_, err = env.groups.AddMember(context.Background(), g.GroupID, joinerID)
	require.NoError(t, err)
	env.fund(t, organizerID, 30000)

	env.contribute(t, g.GroupID, organizerID, 10000)
	_, err = env.ledger.ProcessPayout(context.Background(), g.GroupID, organizerID)
	require.NoError(t, err)

	// Rotation 2's recipient is the walletless joiner; the payout must
	// create their wallet inside its own unit of work and credit it.
	env.contribute(t, g.GroupID, organizerID, 10000)
	payment, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, organizerID)
	require.NoError(t, err, "payout to a recipient without a wallet must succeed")
	assert.Equal(t, joinerID, payment.RecipientID)
	require.True(t, env.balance(t, joinerID).Equal(decimal.NewFromInt(10000)))
}

func TestGroupCompletesAfterFinalRotation(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 2, 10000, 40000)

	for rotation := 1; rotation <= 2; rotation++ {
		for _, userID := range users {
			env.contribute(t, g.GroupID, userID, 10000)
		}
		_, err := env.ledger.ProcessPayout(context.Background(), g.GroupID, users[0])
		require.NoError(t, err)
	}

	updated, err := env.groups.GetGroup(context.Background(), g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, group.GroupStatusCompleted, updated.Status)
	assert.Equal(t, 3, updated.CurrentRotation)

	_, err = env.ledger.RecordContribution(context.Background(), ContributionRequest{
		GroupID:     g.GroupID,
		UserID:      users[0],
		Amount:      decimal.NewFromInt(10000),
		ReferenceID: uuid.NewString(),
	})
	require.ErrorIs(t, err, group.ErrGroupNotActive)

	// Both members were paid exactly once; money is conserved within
	// the group.
	payments, err := env.ledger.ListPayments(context.Background(), g.GroupID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, users[0], payments[0].RecipientID)
	assert.Equal(t, users[1], payments[1].RecipientID)

	total := env.balance(t, users[0]).Add(env.balance(t, users[1]))
	require.True(t, total.Equal(decimal.NewFromInt(80000)), "group total must equal external deposits")
}

func TestContributionStatus(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 30000)

	env.contribute(t, g.GroupID, users[1], 10000)

	status, err := env.ledger.GetContributionStatus(context.Background(), g.GroupID, users[1])
	require.NoError(t, err)
	assert.True(t, status.HasContributed)
	assert.True(t, status.RotationTotal.Equal(decimal.NewFromInt(10000)))
	assert.True(t, status.LifetimeTotal.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 1, status.CurrentRotation)
	assert.False(t, status.NextPayoutDue.IsZero())

	status, err = env.ledger.GetContributionStatus(context.Background(), g.GroupID, users[2])
	require.NoError(t, err)
	assert.False(t, status.HasContributed)
	assert.True(t, status.RotationTotal.IsZero())

	// Unknown group degrades to an empty status, not an error.
	status, err = env.ledger.GetContributionStatus(context.Background(), uuid.NewString(), users[1])
	require.NoError(t, err)
	assert.False(t, status.HasContributed)
	assert.True(t, status.LifetimeTotal.IsZero())
}

func TestContributionToInactiveGroup(t *testing.T) {
	env := setupEnv(t)
	g, users := env.newGroup(t, 3, 10000, 10000)

	require.NoError(t, env.groups.SetStatus(context.Background(), g.GroupID, users[0], group.GroupStatusInactive))

	_, err := env.ledger.RecordContribution(context.Background(), ContributionRequest{
		GroupID:     g.GroupID,
		UserID:      users[1],
		Amount:      decimal.NewFromInt(10000),
		ReferenceID: uuid.NewString(),
	})
	require.ErrorIs(t, err, group.ErrGroupNotActive)
}
