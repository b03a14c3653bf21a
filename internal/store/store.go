package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slothive/internal/model"
)

// Store defines the archive operations the hive performs.
type Store interface {
	DB() *gorm.DB
	RecordSlotEvents(ctx context.Context, events []model.SlotEvent) error
	RecordBooking(ctx context.Context, rec *model.BookingRecord) error
	RecentSlotEvents(ctx context.Context, limit int) ([]model.SlotEvent, error)
	RecentBookings(ctx context.Context, limit int) ([]model.BookingRecord, error)
	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements Store using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) RecordSlotEvents(ctx context.Context, events []model.SlotEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&events).Error; err != nil {
		return fmt.Errorf("failed to archive slot events: %w", err)
	}
	return nil
}

func (s *gormStore) RecordBooking(ctx context.Context, rec *model.BookingRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to archive booking record: %w", err)
	}
	return nil
}

func (s *gormStore) RecentSlotEvents(ctx context.Context, limit int) ([]model.SlotEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.SlotEvent
	err := s.db.WithContext(ctx).
		Order("reported_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query slot events: %w", err)
	}
	return events, nil
}

func (s *gormStore) RecentBookings(ctx context.Context, limit int) ([]model.BookingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.BookingRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query booking records: %w", err)
	}
	return records, nil
}

func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
