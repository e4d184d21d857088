package repository

import (
	"context"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type deliveryLogModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	TaskID         string    `gorm:"column:task_id"`
	SessionID      string    `gorm:"column:session_id;index:idx_delivery_session_owner"`
	Owner          string    `gorm:"column:owner;index:idx_delivery_session_owner"`
	TargetGroupID  string    `gorm:"column:target_group_id"`
	PayloadSummary string    `gorm:"column:payload_summary;type:text"`
	Status         string    `gorm:"column:status"`
	Error          string    `gorm:"column:error;type:text"`
	AttemptCount   int       `gorm:"column:attempt_count"`
	CampaignID     string    `gorm:"column:campaign_id;index"`
	MessageID      string    `gorm:"column:message_id"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (deliveryLogModel) TableName() string { return "delivery_logs" }

// DeliveryLogGormRepository is the append-only delivery log.
type DeliveryLogGormRepository struct {
	db *gorm.DB
}

func NewDeliveryLogGormRepository(db *gorm.DB) *DeliveryLogGormRepository {
	return &DeliveryLogGormRepository{db: db}
}

func (r *DeliveryLogGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&deliveryLogModel{})
}

func (r *DeliveryLogGormRepository) Append(ctx context.Context, rec session.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m := deliveryLogModel{
		ID:             rec.ID,
		TaskID:         rec.TaskID,
		SessionID:      rec.SessionID,
		Owner:          rec.Owner,
		TargetGroupID:  rec.TargetGroupID,
		PayloadSummary: rec.PayloadSummary,
		Status:         string(rec.Status),
		Error:          rec.Error,
		AttemptCount:   rec.AttemptCount,
		CampaignID:     rec.CampaignID,
		MessageID:      rec.MessageID,
		CreatedAt:      rec.Timestamp,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

// ListBySession returns the newest records first.
func (r *DeliveryLogGormRepository) ListBySession(ctx context.Context, sessionID, owner string, limit int) ([]session.DeliveryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []deliveryLogModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND owner = ?", sessionID, owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]session.DeliveryRecord, 0, len(models))
	for _, m := range models {
		out = append(out, session.DeliveryRecord{
			ID:             m.ID,
			TaskID:         m.TaskID,
			SessionID:      m.SessionID,
			Owner:          m.Owner,
			TargetGroupID:  m.TargetGroupID,
			PayloadSummary: m.PayloadSummary,
			Status:         session.DeliveryStatus(m.Status),
			Error:          m.Error,
			AttemptCount:   m.AttemptCount,
			CampaignID:     m.CampaignID,
			MessageID:      m.MessageID,
			Timestamp:      m.CreatedAt,
		})
	}
	return out, nil
}
