package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotAMember        = errors.New("user is not a member of this group")
	ErrNoRecipient       = errors.New("no member holds the current rotation position")
	ErrPayoutAlreadyDone = errors.New("payout already processed for this rotation")
	ErrNoContributions   = errors.New("no completed contributions for this rotation")
)

type LedgerRepository interface {
	GetContributionByReference(ctx context.Context, referenceID string) (*Contribution, error)
	CreateContributionInTx(ctx context.Context, dbtx *gorm.DB, c *Contribution) error
	ListContributionsByRotation(ctx context.Context, dbtx *gorm.DB, groupID string, rotation int) ([]Contribution, error)
	ListContributionsByUser(ctx context.Context, groupID string, userID string) ([]Contribution, error)
	GetPaymentByRotation(ctx context.Context, dbtx *gorm.DB, groupID string, rotation int) (*Payment, error)
	CreatePaymentInTx(ctx context.Context, dbtx *gorm.DB, p *Payment) error
	ListPayments(ctx context.Context, groupID string) ([]Payment, error)
}

type LedgerRepositoryImpl struct {
	db *gorm.DB
}

func NewLedgerRepositoryImpl(db *gorm.DB) LedgerRepository {
	return &LedgerRepositoryImpl{db: db}
}

func (r *LedgerRepositoryImpl) GetContributionByReference(ctx context.Context, referenceID string) (*Contribution, error) {
	var c Contribution
	err := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contribution by reference: %w", err)
	}
	return &c, nil
}

func (r *LedgerRepositoryImpl) CreateContributionInTx(ctx context.Context, dbtx *gorm.DB, c *Contribution) error {
	if err := dbtx.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

func (r *LedgerRepositoryImpl) ListContributionsByRotation(ctx context.Context, dbtx *gorm.DB, groupID string, rotation int) ([]Contribution, error) {
	var contributions []Contribution
	err := dbtx.WithContext(ctx).
		Where("group_id = ? AND rotation = ?", groupID, rotation).
		Order("created_at ASC").
		Find(&contributions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	return contributions, nil
}

func (r *LedgerRepositoryImpl) ListContributionsByUser(ctx context.Context, groupID string, userID string) ([]Contribution, error) {
	var contributions []Contribution
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Order("created_at ASC").
		Find(&contributions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user contributions: %w", err)
	}
	return contributions, nil
}

func (r *LedgerRepositoryImpl) GetPaymentByRotation(ctx context.Context, dbtx *gorm.DB, groupID string, rotation int) (*Payment, error) {
	var p Payment
	err := dbtx.WithContext(ctx).
		Where("group_id = ? AND rotation = ?", groupID, rotation).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *LedgerRepositoryImpl) CreatePaymentInTx(ctx context.Context, dbtx *gorm.DB, p *Payment) error {
	if err := dbtx.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *LedgerRepositoryImpl) ListPayments(ctx context.Context, groupID string) ([]Payment, error) {
	var payments []Payment
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("rotation ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
