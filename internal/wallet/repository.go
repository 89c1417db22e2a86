package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrOptimisticLock       = errors.New("optimistic lock error")
	ErrDailyLimitExceeded   = errors.New("daily limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly limit exceeded")
)

type WalletRepository interface {
	GetWallet(ctx context.Context, userID string, currency string) (*Wallet, error)
	CreateWallet(ctx context.Context, userID string, currency string) (*Wallet, error)
	CreateWalletInTx(ctx context.Context, dbtx *gorm.DB, userID string, currency string) (*Wallet, error)
	GetTransactionByReference(ctx context.Context, referenceID string, transactionType string) (*Transaction, error)
	Credit(ctx context.Context, transaction *Transaction) error
	Debit(ctx context.Context, transaction *Transaction) error
	CreditInTx(ctx context.Context, dbtx *gorm.DB, transaction *Transaction) error
	DebitInTx(ctx context.Context, dbtx *gorm.DB, transaction *Transaction) error
	RecordFailed(ctx context.Context, transaction *Transaction) error
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error)
}

type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepositoryImpl(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) GetWallet(ctx context.Context, userID string, currency string) (*Wallet, error) {
	var w Wallet
	err := r.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) CreateWallet(ctx context.Context, userID string, currency string) (*Wallet, error) {
	return r.CreateWalletInTx(ctx, r.db, userID, currency)
}

// CreateWalletInTx creates the wallet through the caller's unit of work,
// so a rolled-back caller leaves no wallet row behind.
func (r *WalletRepositoryImpl) CreateWalletInTx(ctx context.Context, dbtx *gorm.DB, userID string, currency string) (*Wallet, error) {
	now := time.Now()
	w := Wallet{
		WalletID:  uuid.New().String(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dbtx.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &w, nil
}

func (r *WalletRepositoryImpl) GetTransactionByReference(ctx context.Context, referenceID string, transactionType string) (*Transaction, error) {
	var t Transaction
	err := r.db.WithContext(ctx).
		Where("reference_id = ? AND transaction_type = ? AND status <> ?", referenceID, transactionType, TxStatusFailed).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return &t, nil
}

func (r *WalletRepositoryImpl) Credit(ctx context.Context, tx *Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		return r.CreditInTx(ctx, dbtx, tx)
	})
}

func (r *WalletRepositoryImpl) Debit(ctx context.Context, tx *Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		return r.DebitInTx(ctx, dbtx, tx)
	})
}

// CreditInTx applies a credit inside the caller's unit of work. The
// transaction row is created pending and marked completed together with
// the balance update, so either both commit or neither does.
func (r *WalletRepositoryImpl) CreditInTx(ctx context.Context, dbtx *gorm.DB, tx *Transaction) error {
	var w Wallet
	if err := dbtx.WithContext(ctx).Where("wallet_id = ?", tx.WalletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return err
	}

	if err := r.createPending(ctx, dbtx, tx, &w); err != nil {
		return err
	}

	newBalance := w.Balance.Add(tx.Amount)
	if err := r.updateBalance(ctx, dbtx, &w, newBalance); err != nil {
		return err
	}

	return r.markCompleted(ctx, dbtx, tx, newBalance)
}

// DebitInTx applies a debit inside the caller's unit of work. A balance
// or limit rejection returns before the balance update and rolls the
// pending row back with the rest of the unit of work.
func (r *WalletRepositoryImpl) DebitInTx(ctx context.Context, dbtx *gorm.DB, tx *Transaction) error {
	var w Wallet
	if err := dbtx.WithContext(ctx).Where("wallet_id = ?", tx.WalletID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrWalletNotFound
		}
		return err
	}

	if w.Balance.LessThan(tx.Amount) {
		return ErrInsufficientFunds
	}
	if err := r.checkLimits(ctx, dbtx, &w, tx.Amount); err != nil {
		return err
	}

	if err := r.createPending(ctx, dbtx, tx, &w); err != nil {
		return err
	}

	newBalance := w.Balance.Sub(tx.Amount)
	if err := r.updateBalance(ctx, dbtx, &w, newBalance); err != nil {
		return err
	}

	return r.markCompleted(ctx, dbtx, tx, newBalance)
}

// RecordFailed journals a rejected transaction so the audit trail keeps
// the rejection. Runs outside the aborted unit of work.
func (r *WalletRepositoryImpl) RecordFailed(ctx context.Context, tx *Transaction) error {
	tx.TransactionID = uuid.New().String()
	tx.Status = TxStatusFailed
	tx.CreatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to record failed transaction: %w", err)
	}
	return nil
}

func (r *WalletRepositoryImpl) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.TransactionType != "" {
		q = q.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var txns []Transaction
	if err := q.Order("created_at DESC").Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (r *WalletRepositoryImpl) createPending(ctx context.Context, dbtx *gorm.DB, tx *Transaction, w *Wallet) error {
	tx.TransactionID = uuid.New().String()
	tx.UserID = w.UserID
	tx.Status = TxStatusPending
	tx.BalanceBefore = w.Balance
	tx.BalanceAfter = w.Balance
	tx.CreatedAt = time.Now()
	if err := dbtx.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create pending transaction: %w", err)
	}
	return nil
}

func (r *WalletRepositoryImpl) updateBalance(ctx context.Context, dbtx *gorm.DB, w *Wallet, newBalance decimal.Decimal) error {
	result := dbtx.WithContext(ctx).Model(&Wallet{}).
		Where("wallet_id = ? AND version = ?", w.WalletID, w.Version).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *WalletRepositoryImpl) markCompleted(ctx context.Context, dbtx *gorm.DB, tx *Transaction, newBalance decimal.Decimal) error {
	now := time.Now()
	result := dbtx.WithContext(ctx).Model(&Transaction{}).
		Where("transaction_id = ?", tx.TransactionID).
		Updates(map[string]interface{}{
			"status":        TxStatusCompleted,
			"balance_after": newBalance,
			"completed_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	tx.Status = TxStatusCompleted
	tx.BalanceAfter = newBalance
	tx.CompletedAt = &now
	return nil
}

// checkLimits enforces the wallet's daily and monthly debit ceilings.
// Totals are summed from completed journal rows, never cached.
func (r *WalletRepositoryImpl) checkLimits(ctx context.Context, dbtx *gorm.DB, w *Wallet, amount decimal.Decimal) error {
	if w.DailyLimit.IsZero() && w.MonthlyLimit.IsZero() {
		return nil
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var txns []Transaction
	err := dbtx.WithContext(ctx).
		Where("wallet_id = ? AND status = ? AND created_at >= ?", w.WalletID, TxStatusCompleted, startOfMonth).
		Find(&txns).Error
	if err != nil {
		return fmt.Errorf("failed to load transactions for limit check: %w", err)
	}

	daily, monthly := decimal.Zero, decimal.Zero
	for _, t := range txns {
		if !IsDebitType(t.TransactionType) {
			continue
		}
		monthly = monthly.Add(t.Amount)
		if !t.CreatedAt.Before(startOfDay) {
			daily = daily.Add(t.Amount)
		}
	}

	if w.DailyLimit.GreaterThan(decimal.Zero) && daily.Add(amount).GreaterThan(w.DailyLimit) {
		return ErrDailyLimitExceeded
	}
	if w.MonthlyLimit.GreaterThan(decimal.Zero) && monthly.Add(amount).GreaterThan(w.MonthlyLimit) {
		return ErrMonthlyLimitExceeded
	}
	return nil
}
