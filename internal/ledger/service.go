package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kijumbe_service/internal/group"
	"kijumbe_service/internal/metrics"
	"kijumbe_service/internal/notify"
	"kijumbe_service/internal/wallet"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

type LedgerService interface {
	RecordContribution(ctx context.Context, req ContributionRequest) (*Contribution, error)
	ProcessPayout(ctx context.Context, groupID string, callerID string) (*Payment, error)
	GetContributionStatus(ctx context.Context, groupID string, userID string) (*ContributionStatus, error)
	ListPayments(ctx context.Context, groupID string) ([]Payment, error)
}

type Service struct {
	db      *gorm.DB
	repo    LedgerRepository
	groups  group.GroupRepository
	wallets wallet.WalletRepository
	hub     *notify.Hub
}

func NewService(db *gorm.DB, repo LedgerRepository, groups group.GroupRepository, wallets wallet.WalletRepository, hub *notify.Hub) *Service {
	return &Service{db: db, repo: repo, groups: groups, wallets: wallets, hub: hub}
}

// RecordContribution debits the member's wallet and writes the completed
// contribution row as one unit of work. The contribution is stamped with
// the rotation read inside that unit of work, and the group version bump
// makes it conflict with a concurrent payout — so a contribution always
// lands on a rotation that has not been paid out yet. Idempotent on the
// caller's reference id.
func (s *Service) RecordContribution(ctx context.Context, req ContributionRequest) (*Contribution, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, wallet.ErrInvalidAmount
	}

	existing, err := s.repo.GetContributionByReference(ctx, req.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if _, err := s.groups.GetMember(ctx, req.GroupID, req.UserID); err != nil {
		if errors.Is(err, group.ErrMemberNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}

	g, err := s.groups.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if g.Status != group.GroupStatusActive {
		return nil, group.ErrGroupNotActive
	}

	w, err := s.wallets.GetWallet(ctx, req.UserID, g.Currency)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, wallet.ErrInsufficientFunds
		}
		return nil, err
	}

	// A rejected debit rolls the whole unit of work back: no transaction
	// row and no contribution row survive a failed attempt.
	var contribution *Contribution
	var debitTx *wallet.Transaction
	for i := 0; i < MaxRetries; i++ {
		contribution, debitTx, err = s.tryRecordContribution(ctx, req, w.WalletID)
		if errors.Is(err, wallet.ErrOptimisticLock) || errors.Is(err, group.ErrConcurrentModification) {
			time.Sleep(RetryDelay)
			continue
		}
		break
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent replay of the same reference committed first.
		if existing, lookupErr := s.repo.GetContributionByReference(ctx, req.ReferenceID); lookupErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.ContributionsTotal.Inc()
	slog.Info("contribution recorded",
		"group_id", req.GroupID,
		"user_id", req.UserID,
		"amount", req.Amount.String(),
		"rotation", contribution.Rotation,
		"transaction_id", debitTx.TransactionID,
	)
	s.publishGroupChanged(req.GroupID, req.UserID, contribution.ContributionID)
	return contribution, nil
}

func (s *Service) tryRecordContribution(ctx context.Context, req ContributionRequest, walletID string) (*Contribution, *wallet.Transaction, error) {
	var contribution *Contribution
	debitTx := &wallet.Transaction{
		WalletID:        walletID,
		UserID:          req.UserID,
		TransactionType: wallet.TxTypeContributionDebit,
		Amount:          req.Amount,
		ReferenceID:     req.ReferenceID,
	}

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		g, err := s.groups.GetGroupInTx(ctx, dbtx, req.GroupID)
		if err != nil {
			return err
		}
		if g.Status != group.GroupStatusActive {
			return group.ErrGroupNotActive
		}

		if err := s.wallets.DebitInTx(ctx, dbtx, debitTx); err != nil {
			return err
		}

		contribution = &Contribution{
			ContributionID: uuid.New().String(),
			GroupID:        req.GroupID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Rotation:       g.CurrentRotation,
			Status:         ContributionStatusCompleted,
			TransactionID:  debitTx.TransactionID,
			ReferenceID:    req.ReferenceID,
			CreatedAt:      time.Now(),
		}
		if err := s.repo.CreateContributionInTx(ctx, dbtx, contribution); err != nil {
			return err
		}

		return s.groups.BumpVersionInTx(ctx, dbtx, req.GroupID, g.Version)
	})
	if err != nil {
		return nil, nil, err
	}
	return contribution, debitTx, nil
}

// ProcessPayout credits the pooled total of the current rotation's
// completed contributions to the member whose position matches the
// rotation, writes the payment record, and advances the rotation —
// all in one unit of work. A concurrent payout for the same rotation
// loses the rotation CAS and rolls its credit back.
func (s *Service) ProcessPayout(ctx context.Context, groupID string, callerID string) (*Payment, error) {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.OrganizerID != callerID {
		return nil, group.ErrUnauthorized
	}
	if g.Status != group.GroupStatusActive {
		return nil, group.ErrGroupNotActive
	}

	var payment *Payment
	var recipientID string
	for i := 0; i < MaxRetries; i++ {
		payment, recipientID, err = s.tryProcessPayout(ctx, g.GroupID, g.Currency, g.MaxMembers)
		if errors.Is(err, wallet.ErrOptimisticLock) || errors.Is(err, group.ErrConcurrentModification) {
			time.Sleep(RetryDelay)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.Inc()
	slog.Info("payout processed",
		"group_id", groupID,
		"recipient_id", recipientID,
		"amount", payment.Amount.String(),
		"rotation", payment.Rotation,
	)
	s.publishGroupChanged(groupID, recipientID, payment.PaymentID)
	if s.hub != nil {
		s.hub.Notify(notify.UserKey(recipientID), notify.Event{
			Kind:      notify.KindWalletChanged,
			UserID:    recipientID,
			Reference: payment.TransactionID,
			Timestamp: time.Now(),
		})
	}
	return payment, nil
}

func (s *Service) tryProcessPayout(ctx context.Context, groupID string, currency string, maxMembers int) (*Payment, string, error) {
	var payment *Payment
	var recipientID string

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		g, err := s.groups.GetGroupInTx(ctx, dbtx, groupID)
		if err != nil {
			return err
		}
		if g.Status != group.GroupStatusActive {
			return group.ErrGroupNotActive
		}

		if existing, err := s.repo.GetPaymentByRotation(ctx, dbtx, groupID, g.CurrentRotation); err != nil {
			return err
		} else if existing != nil {
			return ErrPayoutAlreadyDone
		}

		contributions, err := s.repo.ListContributionsByRotation(ctx, dbtx, groupID, g.CurrentRotation)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, c := range contributions {
			if c.Status == ContributionStatusCompleted {
				total = total.Add(c.Amount)
			}
		}
		if total.LessThanOrEqual(decimal.Zero) {
			return ErrNoContributions
		}

		recipient, err := s.groups.GetMemberByPosition(ctx, dbtx, groupID, g.CurrentRotation)
		if err != nil {
			if errors.Is(err, group.ErrMemberNotFound) {
				slog.Warn("no member holds the payout position",
					"group_id", groupID, "rotation", g.CurrentRotation)
				return ErrNoRecipient
			}
			return err
		}
		recipientID = recipient.UserID

		recipientWallet, err := s.wallets.GetWallet(ctx, recipient.UserID, currency)
		if err != nil {
			if !errors.Is(err, wallet.ErrWalletNotFound) {
				return err
			}
			recipientWallet, err = s.wallets.CreateWalletInTx(ctx, dbtx, recipient.UserID, currency)
			if err != nil {
				return err
			}
		}

		paymentID := uuid.New().String()
		creditTx := &wallet.Transaction{
			WalletID:        recipientWallet.WalletID,
			UserID:          recipient.UserID,
			TransactionType: wallet.TxTypePayoutCredit,
			Amount:          total,
			ReferenceID:     paymentID,
		}
		if err := s.wallets.CreditInTx(ctx, dbtx, creditTx); err != nil {
			return err
		}

		payment = &Payment{
			PaymentID:     paymentID,
			GroupID:       groupID,
			RecipientID:   recipient.UserID,
			Amount:        total,
			Rotation:      g.CurrentRotation,
			Status:        PaymentStatusCompleted,
			TransactionID: creditTx.TransactionID,
			CreatedAt:     time.Now(),
		}
		if err := s.repo.CreatePaymentInTx(ctx, dbtx, payment); err != nil {
			return err
		}

		completed := g.CurrentRotation >= maxMembers
		return s.groups.AdvanceRotationInTx(ctx, dbtx, groupID, g.CurrentRotation, g.Version, completed)
	})
	if err != nil {
		return nil, "", err
	}
	return payment, recipientID, nil
}

// GetContributionStatus is advisory: missing groups or non-members
// degrade to an empty status instead of an error.
func (s *Service) GetContributionStatus(ctx context.Context, groupID string, userID string) (*ContributionStatus, error) {
	status := &ContributionStatus{
		GroupID:       groupID,
		UserID:        userID,
		RotationTotal: decimal.Zero,
		LifetimeTotal: decimal.Zero,
	}

	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, group.ErrGroupNotFound) {
			return status, nil
		}
		return nil, err
	}
	status.CurrentRotation = g.CurrentRotation
	status.NextPayoutDue = g.CreatedAt.AddDate(0, 0, g.RotationDuration*g.CurrentRotation)

	contributions, err := s.repo.ListContributionsByUser(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range contributions {
		if c.Status != ContributionStatusCompleted {
			continue
		}
		status.LifetimeTotal = status.LifetimeTotal.Add(c.Amount)
		if c.Rotation == g.CurrentRotation {
			status.HasContributed = true
			status.RotationTotal = status.RotationTotal.Add(c.Amount)
		}
	}
	return status, nil
}

func (s *Service) ListPayments(ctx context.Context, groupID string) ([]Payment, error) {
	return s.repo.ListPayments(ctx, groupID)
}

func (s *Service) publishGroupChanged(groupID string, userID string, reference string) {
	if s.hub == nil {
		return
	}
	s.hub.Notify(notify.GroupKey(groupID), notify.Event{
		Kind:      notify.KindGroupChanged,
		GroupID:   groupID,
		UserID:    userID,
		Reference: reference,
		Timestamp: time.Now(),
	})
}
