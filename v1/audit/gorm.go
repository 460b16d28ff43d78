package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// auditLog is the persisted form of an Entry.
type auditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	UserEmail  string    `gorm:"column:user_email;index"`
	ActionType string    `gorm:"column:action_type;index"`
	Details    string    `gorm:"column:details"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (auditLog) TableName() string { return "audit_logs" }

// GormSink stores entries in the audit_logs table.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink migrates audit_logs and returns the sink.
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&auditLog{}); err != nil {
		return nil, fmt.Errorf("migrate audit_logs: %w", err)
	}
	return &GormSink{db: db}, nil
}

// Append implements Sink.
func (g *GormSink) Append(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := auditLog{
		UserEmail:  e.User,
		ActionType: string(e.ActionType),
		Details:    string(details),
		CreatedAt:  ts.UTC(),
	}
	return g.db.WithContext(ctx).Create(&row).Error
}

// List implements Reader.
func (g *GormSink) List(ctx context.Context, q Query) ([]Entry, int, error) {
	base := func() *gorm.DB {
		tx := g.db.WithContext(ctx).Model(&auditLog{})
		if q.Action != "" {
			tx = tx.Where("action_type = ?", string(q.Action))
		}
		if q.User != "" {
			tx = tx.Where("LOWER(user_email) LIKE ?", "%"+strings.ToLower(q.User)+"%")
		}
		return tx
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var rows []auditLog
	err := base().Order("created_at DESC").Order("id DESC").Offset(q.Offset).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{User: r.UserEmail, ActionType: ActionType(r.ActionType), Timestamp: r.CreatedAt}
		if r.Details != "" {
			_ = json.Unmarshal([]byte(r.Details), &e.Details)
		}
		out = append(out, e)
	}
	return out, int(total), nil
}
