package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Contribution struct {
	ContributionID string          `gorm:"column:contribution_id;primaryKey;type:uuid"`
	GroupID        string          `gorm:"column:group_id;type:uuid;not null;index:idx_contributions_group_rotation"`
	UserID         string          `gorm:"column:user_id;type:uuid;not null;index"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	Rotation       int             `gorm:"column:rotation;not null;index:idx_contributions_group_rotation"`
	Status         string          `gorm:"column:status;type:varchar(20);not null"`
	TransactionID  string          `gorm:"column:transaction_id;type:uuid;not null"`
	ReferenceID    string          `gorm:"column:reference_id;type:varchar(255);not null;unique"` // caller idempotency key
	CreatedAt      time.Time       `gorm:"column:created_at;not null"`
}

type Payment struct {
	PaymentID     string          `gorm:"column:payment_id;primaryKey;type:uuid"`
	GroupID       string          `gorm:"column:group_id;type:uuid;not null;uniqueIndex:idx_payments_group_rotation"`
	RecipientID   string          `gorm:"column:recipient_id;type:uuid;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	Rotation      int             `gorm:"column:rotation;not null;uniqueIndex:idx_payments_group_rotation"`
	Status        string          `gorm:"column:status;type:varchar(20);not null"`
	TransactionID string          `gorm:"column:transaction_id;type:uuid;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null"`
}

type ContributionRequest struct {
	GroupID     string          `json:"group_id"`
	UserID      string          `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ReferenceID string          `json:"reference_id" binding:"required"`
}

// ContributionStatus is the advisory read-side view: whether and how much
// a user has paid into the current rotation, and their lifetime total.
type ContributionStatus struct {
	GroupID         string          `json:"group_id"`
	UserID          string          `json:"user_id"`
	CurrentRotation int             `json:"current_rotation"`
	HasContributed  bool            `json:"has_contributed"`
	RotationTotal   decimal.Decimal `json:"rotation_total"`
	LifetimeTotal   decimal.Decimal `json:"lifetime_total"`
	NextPayoutDue   time.Time       `json:"next_payout_due"`
}

const (
	ContributionStatusPending   = "pending"
	ContributionStatusCompleted = "completed"
	ContributionStatusFailed    = "failed"
)

const (
	PaymentStatusCompleted = "completed"
)
