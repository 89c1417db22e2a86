package group

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"kijumbe_service/internal/notify"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond
)

var (
	ErrInvalidParameters = errors.New("invalid group parameters")
	ErrGroupFull         = errors.New("group is full")
	ErrAlreadyMember     = errors.New("user is already a member of this group")
	ErrGroupNotActive    = errors.New("group is not active")
	ErrUnauthorized      = errors.New("caller is not the group organizer")
)

type GroupService interface {
	CreateGroup(ctx context.Context, organizerID string, params CreateGroupParams) (*Group, error)
	AddMember(ctx context.Context, groupID string, userID string) (*Member, error)
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GetMembers(ctx context.Context, groupID string) ([]Member, error)
	SetStatus(ctx context.Context, groupID string, callerID string, status string) error
}

type Service struct {
	db   *gorm.DB
	repo GroupRepository
	hub  *notify.Hub
}

func NewService(db *gorm.DB, repo GroupRepository, hub *notify.Hub) *Service {
	return &Service{db: db, repo: repo, hub: hub}
}

// CreateGroup creates a group with the organizer seated at rotation
// position 1 and the rotation counter at 1.
func (s *Service) CreateGroup(ctx context.Context, organizerID string, params CreateGroupParams) (*Group, error) {
	if organizerID == "" || params.Name == "" {
		return nil, ErrInvalidParameters
	}
	if params.MaxMembers < MinGroupMembers || params.MaxMembers > MaxGroupMembers {
		return nil, ErrInvalidParameters
	}
	if params.ContributionAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidParameters
	}
	if params.RotationDuration <= 0 {
		return nil, ErrInvalidParameters
	}
	if params.Currency == "" {
		params.Currency = DefaultCurrency
	}

	now := time.Now()
	g := &Group{
		GroupID:            uuid.New().String(),
		Name:               params.Name,
		OrganizerID:        organizerID,
		MaxMembers:         params.MaxMembers,
		ContributionAmount: params.ContributionAmount,
		RotationDuration:   params.RotationDuration,
		Currency:           params.Currency,
		Status:             GroupStatusActive,
		CurrentRotation:    1,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	organizer := &Member{
		MemberID:         uuid.New().String(),
		GroupID:          g.GroupID,
		UserID:           organizerID,
		Role:             RoleOrganizer,
		RotationPosition: 1,
		JoinedAt:         now,
	}

	if err := s.repo.CreateGroupWithOrganizer(ctx, g, organizer); err != nil {
		return nil, err
	}

	slog.Info("group created",
		"group_id", g.GroupID,
		"organizer_id", organizerID,
		"max_members", g.MaxMembers,
		"contribution_amount", g.ContributionAmount.String(),
	)
	s.publishGroupChanged(g.GroupID, organizerID)
	return g, nil
}

// AddMember seats a user at the next sequential rotation position.
// Capacity check, duplicate check and insert run in one unit of work
// keyed on the group version, so concurrent joins cannot overfill the
// roster or share a position.
func (s *Service) AddMember(ctx context.Context, groupID string, userID string) (*Member, error) {
	if userID == "" {
		return nil, ErrInvalidParameters
	}

	var member *Member
	var err error
	for i := 0; i < MaxRetries; i++ {
		member, err = s.tryAddMember(ctx, groupID, userID)
		if errors.Is(err, ErrConcurrentModification) {
			time.Sleep(RetryDelay)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	slog.Info("member joined group",
		"group_id", groupID,
		"user_id", userID,
		"rotation_position", member.RotationPosition,
	)
	s.publishGroupChanged(groupID, userID)
	return member, nil
}

func (s *Service) tryAddMember(ctx context.Context, groupID string, userID string) (*Member, error) {
	var member *Member
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		g, err := s.repo.GetGroupInTx(ctx, dbtx, groupID)
		if err != nil {
			return err
		}
		if g.Status != GroupStatusActive {
			return ErrGroupNotActive
		}

		count, err := s.repo.CountMembers(ctx, dbtx, groupID)
		if err != nil {
			return err
		}
		if count >= int64(g.MaxMembers) {
			return ErrGroupFull
		}

		if _, err := s.repo.GetMember(ctx, groupID, userID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrMemberNotFound) {
			return err
		}

		member = &Member{
			MemberID:         uuid.New().String(),
			GroupID:          groupID,
			UserID:           userID,
			Role:             RoleMember,
			RotationPosition: int(count) + 1,
			JoinedAt:         time.Now(),
		}
		if err := s.repo.CreateMemberInTx(ctx, dbtx, member); err != nil {
			return err
		}

		return s.repo.BumpVersionInTx(ctx, dbtx, groupID, g.Version)
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Service) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	return s.repo.GetGroup(ctx, groupID)
}

func (s *Service) GetMembers(ctx context.Context, groupID string) ([]Member, error) {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, groupID)
}

// SetStatus lets the organizer pause or resume a group. Completed is a
// terminal state owned by the payout path and cannot be set here.
func (s *Service) SetStatus(ctx context.Context, groupID string, callerID string, status string) error {
	if status != GroupStatusActive && status != GroupStatusInactive {
		return ErrInvalidParameters
	}
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OrganizerID != callerID {
		return ErrUnauthorized
	}
	if g.Status == GroupStatusCompleted {
		return ErrGroupNotActive
	}

	if err := s.repo.UpdateStatus(ctx, groupID, g.Version, status); err != nil {
		return err
	}
	slog.Info("group status changed", "group_id", groupID, "status", status)
	s.publishGroupChanged(groupID, callerID)
	return nil
}

func (s *Service) publishGroupChanged(groupID string, userID string) {
	if s.hub == nil {
		return
	}
	s.hub.Notify(notify.GroupKey(groupID), notify.Event{
		Kind:      notify.KindGroupChanged,
		GroupID:   groupID,
		UserID:    userID,
		Timestamp: time.Now(),
	})
}
