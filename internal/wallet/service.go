package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kijumbe_service/internal/metrics"
	"kijumbe_service/internal/notify"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrSameWalletTransfer     = errors.New("cannot transfer to the same user")
)

type WalletService interface {
	GetOrCreateWallet(ctx context.Context, userID string, currency string) (*Wallet, error)
	GetBalance(ctx context.Context, userID string, currency string) (*Wallet, error)
	ApplyTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error)
	TypeTotals(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
}

type Service struct {
	db   *gorm.DB
	repo WalletRepository
	hub  *notify.Hub
}

func NewService(db *gorm.DB, repo WalletRepository, hub *notify.Hub) *Service {
	return &Service{db: db, repo: repo, hub: hub}
}

func (s *Service) GetOrCreateWallet(ctx context.Context, userID string, currency string) (*Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	w, err := s.repo.GetWallet(ctx, userID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	w, err = s.repo.CreateWallet(ctx, userID, currency)
	if err != nil {
		// A concurrent caller may have created it between the get and
		// the insert; the unique index makes the insert lose, not fork.
		if existing, getErr := s.repo.GetWallet(ctx, userID, currency); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return w, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string, currency string) (*Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	return s.repo.GetWallet(ctx, userID, currency)
}

// ApplyTransaction is the single entry point for any balance change.
// It is idempotent on (reference_id, transaction_type): replaying a
// request returns the already-applied transaction without a second
// balance change.
func (s *Service) ApplyTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	if !IsCreditType(req.TransactionType) && !IsDebitType(req.TransactionType) {
		return nil, ErrInvalidTransactionType
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}

	existingTx, err := s.repo.GetTransactionByReference(ctx, req.ReferenceID, req.TransactionType)
	if err != nil {
		return nil, err
	}
	if existingTx != nil {
		return &TransactionResponse{
			TransactionID: existingTx.TransactionID,
			Balance:       existingTx.BalanceAfter,
			Status:        existingTx.Status,
		}, nil
	}

	w, err := s.repo.GetWallet(ctx, req.UserID, req.Currency)
	if err != nil {
		if !errors.Is(err, ErrWalletNotFound) {
			return nil, err
		}
		if IsDebitType(req.TransactionType) {
			return nil, ErrInsufficientFunds
		}
		w, err = s.repo.CreateWallet(ctx, req.UserID, req.Currency)
		if err != nil {
			return nil, err
		}
	}

	tx := &Transaction{
		WalletID:        w.WalletID,
		UserID:          req.UserID,
		TransactionType: req.TransactionType,
		Amount:          req.Amount,
		ReferenceID:     req.ReferenceID,
	}

	for i := 0; i < MaxRetries; i++ {
		if IsCreditType(req.TransactionType) {
			err = s.repo.Credit(ctx, tx)
		} else {
			err = s.repo.Debit(ctx, tx)
		}
		if err == nil {
			metrics.TransactionsTotal.WithLabelValues(req.TransactionType, TxStatusCompleted).Inc()
			s.publishWalletChanged(req.UserID, tx)
			return &TransactionResponse{
				TransactionID: tx.TransactionID,
				Balance:       tx.BalanceAfter,
				Status:        tx.Status,
			}, nil
		}
		if errors.Is(err, ErrOptimisticLock) {
			time.Sleep(RetryDelay)
			continue
		}
		break
	}

	// A concurrent replay of the same reference loses the unique index
	// race; hand back the transaction the winner applied.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if existingTx, lookupErr := s.repo.GetTransactionByReference(ctx, req.ReferenceID, req.TransactionType); lookupErr == nil && existingTx != nil {
			return &TransactionResponse{
				TransactionID: existingTx.TransactionID,
				Balance:       existingTx.BalanceAfter,
				Status:        existingTx.Status,
			}, nil
		}
	}
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrDailyLimitExceeded) || errors.Is(err, ErrMonthlyLimitExceeded) {
		s.journalRejection(ctx, w, req, err)
	}
	return nil, err
}

// Transfer moves money between two users' wallets as one unit of work.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if req.FromUserID == req.ToUserID {
		return nil, ErrSameWalletTransfer
	}
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}

	existingTx, err := s.repo.GetTransactionByReference(ctx, req.ReferenceID, TxTypeTransferOut)
	if err != nil {
		return nil, err
	}
	if existingTx != nil {
		creditTx, err := s.repo.GetTransactionByReference(ctx, req.ReferenceID, TxTypeTransferIn)
		if err != nil {
			return nil, err
		}
		resp := &TransferResponse{
			DebitTransactionID: existingTx.TransactionID,
			FromBalance:        existingTx.BalanceAfter,
			Status:             existingTx.Status,
		}
		if creditTx != nil {
			resp.CreditTransactionID = creditTx.TransactionID
		}
		return resp, nil
	}

	fromWallet, err := s.repo.GetWallet(ctx, req.FromUserID, req.Currency)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	toWallet, err := s.GetOrCreateWallet(ctx, req.ToUserID, req.Currency)
	if err != nil {
		return nil, err
	}

	debitTx := &Transaction{
		WalletID:        fromWallet.WalletID,
		UserID:          req.FromUserID,
		TransactionType: TxTypeTransferOut,
		Amount:          req.Amount,
		ReferenceID:     req.ReferenceID,
	}
	creditTx := &Transaction{
		WalletID:        toWallet.WalletID,
		UserID:          req.ToUserID,
		TransactionType: TxTypeTransferIn,
		Amount:          req.Amount,
		ReferenceID:     req.ReferenceID,
	}

	for i := 0; i < MaxRetries; i++ {
		err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
			if debitErr := s.repo.DebitInTx(ctx, dbtx, debitTx); debitErr != nil {
				return debitErr
			}
			return s.repo.CreditInTx(ctx, dbtx, creditTx)
		})
		if err == nil {
			metrics.TransactionsTotal.WithLabelValues(TxTypeTransferOut, TxStatusCompleted).Inc()
			metrics.TransactionsTotal.WithLabelValues(TxTypeTransferIn, TxStatusCompleted).Inc()
			s.publishWalletChanged(req.FromUserID, debitTx)
			s.publishWalletChanged(req.ToUserID, creditTx)
			return &TransferResponse{
				DebitTransactionID:  debitTx.TransactionID,
				CreditTransactionID: creditTx.TransactionID,
				FromBalance:         debitTx.BalanceAfter,
				Status:              debitTx.Status,
			}, nil
		}
		if errors.Is(err, ErrOptimisticLock) {
			time.Sleep(RetryDelay)
			continue
		}
		break
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if existingTx, lookupErr := s.repo.GetTransactionByReference(ctx, req.ReferenceID, TxTypeTransferOut); lookupErr == nil && existingTx != nil {
			resp := &TransferResponse{
				DebitTransactionID: existingTx.TransactionID,
				FromBalance:        existingTx.BalanceAfter,
				Status:             existingTx.Status,
			}
			if inTx, lookupErr := s.repo.GetTransactionByReference(ctx, req.ReferenceID, TxTypeTransferIn); lookupErr == nil && inTx != nil {
				resp.CreditTransactionID = inTx.TransactionID
			}
			return resp, nil
		}
	}
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrDailyLimitExceeded) || errors.Is(err, ErrMonthlyLimitExceeded) {
		s.journalRejection(ctx, fromWallet, TransactionRequest{
			UserID:          req.FromUserID,
			TransactionType: TxTypeTransferOut,
			Amount:          req.Amount,
			ReferenceID:     req.ReferenceID,
			Currency:        req.Currency,
		}, err)
	}
	return nil, err
}

func (s *Service) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, filter)
}

// TypeTotals recomputes per-type totals from completed journal rows.
// This is the derived sub-balance view; it is never stored.
func (s *Service) TypeTotals(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	txns, err := s.repo.ListTransactions(ctx, userID, TransactionFilter{Status: TxStatusCompleted})
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal)
	for _, t := range txns {
		totals[t.TransactionType] = totals[t.TransactionType].Add(t.Amount)
	}
	return totals, nil
}

// journalRejection records a failed row for a business rejection so no
// attempt disappears from the audit trail. Best effort: the rejection
// itself is already being surfaced to the caller.
func (s *Service) journalRejection(ctx context.Context, w *Wallet, req TransactionRequest, cause error) {
	failed := &Transaction{
		WalletID:        w.WalletID,
		UserID:          req.UserID,
		TransactionType: req.TransactionType,
		Amount:          req.Amount,
		BalanceBefore:   w.Balance,
		BalanceAfter:    w.Balance,
		ReferenceID:     req.ReferenceID,
	}
	if err := s.repo.RecordFailed(ctx, failed); err != nil {
		slog.Error("failed to journal rejected transaction",
			"user_id", req.UserID, "reference_id", req.ReferenceID, "error", err)
		return
	}
	metrics.TransactionsTotal.WithLabelValues(req.TransactionType, TxStatusFailed).Inc()
	slog.Warn("transaction rejected",
		"user_id", req.UserID,
		"type", req.TransactionType,
		"amount", req.Amount.String(),
		"reason", cause.Error(),
	)
}

func (s *Service) publishWalletChanged(userID string, tx *Transaction) {
	if s.hub == nil {
		return
	}
	s.hub.Notify(notify.UserKey(userID), notify.Event{
		Kind:      notify.KindWalletChanged,
		UserID:    userID,
		Reference: tx.TransactionID,
		Timestamp: time.Now(),
	})
}
