package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrGroupNotFound          = errors.New("group not found")
	ErrMemberNotFound         = errors.New("member not found")
	ErrConcurrentModification = errors.New("group was modified concurrently")
)

type GroupRepository interface {
	CreateGroupWithOrganizer(ctx context.Context, g *Group, organizer *Member) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GetGroupInTx(ctx context.Context, dbtx *gorm.DB, groupID string) (*Group, error)
	GetMember(ctx context.Context, groupID string, userID string) (*Member, error)
	GetMemberByPosition(ctx context.Context, dbtx *gorm.DB, groupID string, position int) (*Member, error)
	ListMembers(ctx context.Context, groupID string) ([]Member, error)
	CountMembers(ctx context.Context, dbtx *gorm.DB, groupID string) (int64, error)
	CreateMemberInTx(ctx context.Context, dbtx *gorm.DB, m *Member) error
	BumpVersionInTx(ctx context.Context, dbtx *gorm.DB, groupID string, version int) error
	AdvanceRotationInTx(ctx context.Context, dbtx *gorm.DB, groupID string, fromRotation int, version int, completed bool) error
	UpdateStatus(ctx context.Context, groupID string, version int, status string) error
}

type GroupRepositoryImpl struct {
	db *gorm.DB
}

func NewGroupRepositoryImpl(db *gorm.DB) GroupRepository {
	return &GroupRepositoryImpl{db: db}
}

func (r *GroupRepositoryImpl) CreateGroupWithOrganizer(ctx context.Context, g *Group, organizer *Member) error {
	return r.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := dbtx.Create(g).Error; err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		if err := dbtx.Create(organizer).Error; err != nil {
			return fmt.Errorf("failed to create organizer member: %w", err)
		}
		return nil
	})
}

func (r *GroupRepositoryImpl) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	return r.GetGroupInTx(ctx, r.db, groupID)
}

func (r *GroupRepositoryImpl) GetGroupInTx(ctx context.Context, dbtx *gorm.DB, groupID string) (*Group, error) {
	var g Group
	err := dbtx.WithContext(ctx).Where("group_id = ?", groupID).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

func (r *GroupRepositoryImpl) GetMember(ctx context.Context, groupID string, userID string) (*Member, error) {
	var m Member
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (r *GroupRepositoryImpl) GetMemberByPosition(ctx context.Context, dbtx *gorm.DB, groupID string, position int) (*Member, error) {
	var m Member
	err := dbtx.WithContext(ctx).
		Where("group_id = ? AND rotation_position = ?", groupID, position).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member by position: %w", err)
	}
	return &m, nil
}

func (r *GroupRepositoryImpl) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	var members []Member
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("rotation_position ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

func (r *GroupRepositoryImpl) CountMembers(ctx context.Context, dbtx *gorm.DB, groupID string) (int64, error) {
	var count int64
	err := dbtx.WithContext(ctx).Model(&Member{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

func (r *GroupRepositoryImpl) CreateMemberInTx(ctx context.Context, dbtx *gorm.DB, m *Member) error {
	if err := dbtx.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// BumpVersionInTx is the write that serializes roster and rotation
// changes on one group: two units of work that both read version N can
// not both commit.
func (r *GroupRepositoryImpl) BumpVersionInTx(ctx context.Context, dbtx *gorm.DB, groupID string, version int) error {
	result := dbtx.WithContext(ctx).Model(&Group{}).
		Where("group_id = ? AND version = ?", groupID, version).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to bump group version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// AdvanceRotationInTx moves the rotation counter forward by exactly one,
// conditional on the expected current rotation and version. Only the
// payout path calls this.
func (r *GroupRepositoryImpl) AdvanceRotationInTx(ctx context.Context, dbtx *gorm.DB, groupID string, fromRotation int, version int, completed bool) error {
	updates := map[string]interface{}{
		"current_rotation": fromRotation + 1,
		"version":          gorm.Expr("version + 1"),
		"updated_at":       time.Now(),
	}
	if completed {
		updates["status"] = GroupStatusCompleted
	}
	result := dbtx.WithContext(ctx).Model(&Group{}).
		Where("group_id = ? AND current_rotation = ? AND version = ?", groupID, fromRotation, version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to advance rotation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *GroupRepositoryImpl) UpdateStatus(ctx context.Context, groupID string, version int, status string) error {
	result := r.db.WithContext(ctx).Model(&Group{}).
		Where("group_id = ? AND version = ?", groupID, version).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update group status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}
