package group

import (
	"time"

	"github.com/shopspring/decimal"
)

type Group struct {
	GroupID            string          `gorm:"column:group_id;primaryKey;type:uuid"`
	Name               string          `gorm:"column:name;type:varchar(100);not null"`
	OrganizerID        string          `gorm:"column:organizer_id;type:uuid;not null"`
	MaxMembers         int             `gorm:"column:max_members;not null"`
	ContributionAmount decimal.Decimal `gorm:"column:contribution_amount;type:numeric(20,2);not null"`
	RotationDuration   int             `gorm:"column:rotation_duration;not null"` // days between rotations
	Currency           string          `gorm:"column:currency;type:varchar(3);not null"`
	Status             string          `gorm:"column:status;type:varchar(20);not null"`
	CurrentRotation    int             `gorm:"column:current_rotation;not null"`
	Version            int             `gorm:"column:version;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;not null"`
}

type Member struct {
	MemberID         string    `gorm:"column:member_id;primaryKey;type:uuid"`
	GroupID          string    `gorm:"column:group_id;type:uuid;not null;uniqueIndex:idx_members_group_user;uniqueIndex:idx_members_group_position"`
	UserID           string    `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_members_group_user"`
	Role             string    `gorm:"column:role;type:varchar(20);not null"`
	RotationPosition int       `gorm:"column:rotation_position;not null;uniqueIndex:idx_members_group_position"`
	JoinedAt         time.Time `gorm:"column:joined_at;not null"`
}

type CreateGroupParams struct {
	Name               string          `json:"name" binding:"required"`
	MaxMembers         int             `json:"max_members" binding:"required"`
	ContributionAmount decimal.Decimal `json:"contribution_amount" binding:"required"`
	RotationDuration   int             `json:"rotation_duration" binding:"required"`
	Currency           string          `json:"currency"`
}

const (
	GroupStatusActive    = "active"
	GroupStatusInactive  = "inactive"
	GroupStatusCompleted = "completed"
)

const (
	RoleOrganizer = "organizer"
	RoleMember    = "member"
)

const (
	MinGroupMembers = 2
	MaxGroupMembers = 50
)

const DefaultCurrency = "TZS"
