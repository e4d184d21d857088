package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sessionSnapshotModel struct {
	ID           string     `gorm:"primaryKey;column:id"`
	Owner        string     `gorm:"primaryKey;column:owner"`
	Status       string     `gorm:"column:status;index"`
	IdentityJSON string     `gorm:"column:identity_json;type:text"`
	GroupsJSON   string     `gorm:"column:groups_json;type:text"`
	GroupsLoaded bool       `gorm:"column:groups_loaded"`
	MessagesSent int64      `gorm:"column:messages_sent"`
	Reconnects   int64      `gorm:"column:reconnects"`
	Errors       int64      `gorm:"column:errors"`
	LastError    string     `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	LastActivity time.Time  `gorm:"column:last_activity"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (sessionSnapshotModel) TableName() string { return "session_snapshots" }

// SessionGormRepository persists snapshots in SQLite or Postgres.
type SessionGormRepository struct {
	db *gorm.DB
}

func NewSessionGormRepository(db *gorm.DB) *SessionGormRepository {
	return &SessionGormRepository{db: db}
}

func (r *SessionGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&sessionSnapshotModel{})
}

func (r *SessionGormRepository) Get(ctx context.Context, id, owner string) (*session.Snapshot, error) {
	var m sessionSnapshotModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner = ?", id, owner).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(m)
}

// OwnerOf returns the owner holding id, or "" when no snapshot exists.
func (r *SessionGormRepository) OwnerOf(ctx context.Context, id string) (string, error) {
	var owners []string
	err := r.db.WithContext(ctx).
		Model(&sessionSnapshotModel{}).
		Where("id = ?", id).
		Order("created_at").
		Limit(1).
		Pluck("owner", &owners).Error
	if err != nil || len(owners) == 0 {
		return "", err
	}
	return owners[0], nil
}

func (r *SessionGormRepository) Upsert(ctx context.Context, snap session.Snapshot) error {
	m, err := r.fromDomain(snap)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "owner"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (r *SessionGormRepository) Delete(ctx context.Context, id, owner string) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND owner = ?", id, owner).
		Delete(&sessionSnapshotModel{}).Error
}

func (r *SessionGormRepository) fromDomain(snap session.Snapshot) (sessionSnapshotModel, error) {
	groups := snap.Groups
	if groups == nil {
		groups = []session.Group{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return sessionSnapshotModel{}, fmt.Errorf("failed to marshal groups: %w", err)
	}

	var identityJSON []byte
	if snap.Identity != nil {
		if identityJSON, err = json.Marshal(snap.Identity); err != nil {
			return sessionSnapshotModel{}, fmt.Errorf("failed to marshal identity: %w", err)
		}
	}

	m := sessionSnapshotModel{
		ID:           snap.ID,
		Owner:        snap.Owner,
		Status:       string(snap.Status),
		IdentityJSON: string(identityJSON),
		GroupsJSON:   string(groupsJSON),
		GroupsLoaded: snap.GroupsLoaded,
		MessagesSent: snap.Counters.MessagesSent,
		Reconnects:   snap.Counters.Reconnects,
		Errors:       snap.Counters.Errors,
		LastError:    snap.LastError,
		LastActivity: snap.LastActivity,
		CreatedAt:    snap.CreatedAt,
	}
	if !snap.LastErrorAt.IsZero() {
		at := snap.LastErrorAt
		m.LastErrorAt = &at
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

func (r *SessionGormRepository) toDomain(m sessionSnapshotModel) (*session.Snapshot, error) {
	snap := &session.Snapshot{
		ID:           m.ID,
		Owner:        m.Owner,
		Status:       session.Status(m.Status),
		GroupsLoaded: m.GroupsLoaded,
		Counters: session.Counters{
			MessagesSent: m.MessagesSent,
			Reconnects:   m.Reconnects,
			Errors:       m.Errors,
		},
		LastError:    m.LastError,
		LastActivity: m.LastActivity,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.LastErrorAt != nil {
		snap.LastErrorAt = *m.LastErrorAt
	}
	if m.GroupsJSON != "" {
		if err := json.Unmarshal([]byte(m.GroupsJSON), &snap.Groups); err != nil {
			return nil, fmt.Errorf("failed to unmarshal groups for %s: %w", m.ID, err)
		}
	}
	if m.IdentityJSON != "" {
		var id session.Identity
		if err := json.Unmarshal([]byte(m.IdentityJSON), &id); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identity for %s: %w", m.ID, err)
		}
		snap.Identity = &id
	}
	return snap, nil
}
