package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/models"
)

var ErrRecordNotFound = errors.New("record not found")

// recordWindow is the rolling window for the personal history views.
const recordWindow = 30 * 24 * time.Hour

type Service struct {
	db *database.DB
}

func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// ListenRecords returns the caller's listening history inside the window,
// newest first.
func (s *Service) ListenRecords(ctx context.Context, userID uint) ([]*models.ListenRecord, error) {
	cutoff := time.Now().Add(-recordWindow)

	var records []*models.ListenRecord
	err := s.db.Where("user_id = ? AND played_at >= ?", userID, cutoff).
		Order("played_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list listen records: %w", err)
	}
	return records, nil
}

// ParticipationRecords returns the caller's recently visited rooms inside
// the window, newest first.
func (s *Service) ParticipationRecords(ctx context.Context, userID uint) ([]*models.RoomParticipationRecord, error) {
	cutoff := time.Now().Add(-recordWindow)

	var records []*models.RoomParticipationRecord
	err := s.db.Where("user_id = ? AND participated_at >= ?", userID, cutoff).
		Order("participated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participation records: %w", err)
	}
	return records, nil
}

func (s *Service) DeleteListenRecord(ctx context.Context, userID, recordID uint) error {
	var record models.ListenRecord
	err := s.db.Where("id = ? AND user_id = ?", recordID, userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to look up listen record: %w", err)
	}
	if err := s.db.Delete(&record).Error; err != nil {
		return fmt.Errorf("failed to delete listen record: %w", err)
	}
	return nil
}

func (s *Service) DeleteParticipationRecord(ctx context.Context, userID, recordID uint) error {
	var record models.RoomParticipationRecord
	err := s.db.Where("id = ? AND user_id = ?", recordID, userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to look up participation record: %w", err)
	}
	if err := s.db.Delete(&record).Error; err != nil {
		return fmt.Errorf("failed to delete participation record: %w", err)
	}
	return nil
}
