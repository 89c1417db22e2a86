package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	WalletID     string          `gorm:"column:wallet_id;primaryKey;type:uuid"`
	UserID       string          `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_wallets_user_currency"`
	Currency     string          `gorm:"column:currency;type:varchar(3);not null;uniqueIndex:idx_wallets_user_currency"`
	Balance      decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null"`
	DailyLimit   decimal.Decimal `gorm:"column:daily_limit;type:numeric(20,2);not null"`   // zero = unlimited
	MonthlyLimit decimal.Decimal `gorm:"column:monthly_limit;type:numeric(20,2);not null"` // zero = unlimited
	PinSet       bool            `gorm:"column:pin_set;not null"`
	Version      int             `gorm:"column:version;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null"`
}

type Transaction struct {
	TransactionID   string          `gorm:"column:transaction_id;primaryKey;type:uuid"`
	WalletID        string          `gorm:"column:wallet_id;type:uuid;not null;index"`
	UserID          string          `gorm:"column:user_id;type:uuid;not null;index"`
	TransactionType string          `gorm:"column:transaction_type;type:varchar(20);not null;uniqueIndex:idx_transactions_reference_type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	BalanceBefore   decimal.Decimal `gorm:"column:balance_before;type:numeric(20,2);not null"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after;type:numeric(20,2);not null"`
	// Idempotency key / originating record. The partial unique index
	// excludes failed rows so a rejected attempt never blocks a retry.
	ReferenceID string `gorm:"column:reference_id;type:varchar(255);not null;uniqueIndex:idx_transactions_reference_type,where:status <> 'failed'"`
	Status          string          `gorm:"column:status;type:varchar(20);not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;not null"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
}

type TransactionRequest struct {
	UserID          string          `json:"user_id" binding:"required"`
	TransactionType string          `json:"transaction_type" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID     string          `json:"reference_id" binding:"required"`
	Currency        string          `json:"currency"`
}

type TransactionResponse struct {
	TransactionID string          `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
	Status        string          `json:"status"`
}

type TransferRequest struct {
	FromUserID  string          `json:"from_user_id" binding:"required"`
	ToUserID    string          `json:"to_user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID string          `json:"reference_id" binding:"required"`
	Currency    string          `json:"currency"`
}

type TransferResponse struct {
	DebitTransactionID  string          `json:"debit_transaction_id"`
	CreditTransactionID string          `json:"credit_transaction_id"`
	FromBalance         decimal.Decimal `json:"from_balance"`
	Status              string          `json:"status"`
}

type TransactionFilter struct {
	TransactionType string
	Status          string
	Limit           int
}

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

const (
	TxTypeDeposit           = "deposit"
	TxTypeWithdrawal        = "withdrawal"
	TxTypeTransferIn        = "transfer_in"
	TxTypeTransferOut       = "transfer_out"
	TxTypeContributionDebit = "contribution_debit"
	TxTypePayoutCredit      = "payout_credit"
)

const DefaultCurrency = "TZS"

// Every transaction type must appear in exactly one of these maps; the
// map a type belongs to determines the sign it applies to the balance.
var creditTypes = map[string]bool{
	TxTypeDeposit:      true,
	TxTypeTransferIn:   true,
	TxTypePayoutCredit: true,
}

var debitTypes = map[string]bool{
	TxTypeWithdrawal:        true,
	TxTypeTransferOut:       true,
	TxTypeContributionDebit: true,
}

func IsCreditType(t string) bool { return creditTypes[t] }
func IsDebitType(t string) bool  { return debitTypes[t] }
