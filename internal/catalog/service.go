package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/models"
)

var ErrTrackNotFound = errors.New("track not found")

const defaultRejectionNotice = "An uploaded track was rejected for violating the content policy"

type Service struct {
	db        *database.DB
	uploadDir string
}

func NewService(db *database.DB, uploadDir string) *Service {
	return &Service{db: db, uploadDir: uploadDir}
}

// MusicDir is where stored audio files live on disk.
func (s *Service) MusicDir() string {
	return filepath.Join(s.uploadDir, "music")
}

// AddTrack records an uploaded file in the catalog as pending moderation.
func (s *Service) AddTrack(ctx context.Context, userID uint, title, originalFilename, storedFilename string) (*models.Track, error) {
	track := &models.Track{
		UserID:           userID,
		Title:            title,
		OriginalFilename: originalFilename,
		StoredFilename:   storedFilename,
		Status:           models.TrackStatusPending,
	}
	if err := s.db.CreateTrack(track); err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	return track, nil
}

// MyTracks lists the caller's uploads, newest first.
func (s *Service) MyTracks(ctx context.Context, userID uint) ([]*models.Track, error) {
	return s.db.GetTracksByUser(userID)
}

// MyApprovedTracks lists the caller's playable tracks, the source list for
// room playlists.
func (s *Service) MyApprovedTracks(ctx context.Context, userID uint) ([]*models.Track, error) {
	var tracks []*models.Track
	err := s.db.Where("user_id = ? AND status = ?", userID, models.TrackStatusApproved).
		Order("uploaded_at DESC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list approved tracks: %w", err)
	}
	return tracks, nil
}

// DeleteTrack removes one of the caller's uploads along with any room
// playlist entries that reference it, then the file on disk.
func (s *Service) DeleteTrack(ctx context.Context, userID, trackID uint) error {
	var track models.Track
	err := s.db.Where("id = ? AND user_id = ?", trackID, userID).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTrackNotFound
		}
		return fmt.Errorf("failed to look up track: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", track.ID).Delete(&models.RoomPlaylistEntry{}).Error; err != nil {
			return err
		}
		return tx.Delete(&track).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}

	if err := os.Remove(filepath.Join(s.MusicDir(), track.StoredFilename)); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove stored file %s: %v", track.StoredFilename, err)
	}
	return nil
}

// PendingTracks returns the moderation queue, oldest upload first.
func (s *Service) PendingTracks(ctx context.Context) ([]*models.Track, error) {
	return s.db.GetTracksByStatus(models.TrackStatusPending, "ASC")
}

// RejectedTracks returns previously rejected uploads, newest first.
func (s *Service) RejectedTracks(ctx context.Context) ([]*models.Track, error) {
	return s.db.GetTracksByStatus(models.TrackStatusRejected, "DESC")
}

// ApproveTrack marks a track playable and clears any rejection reason.
func (s *Service) ApproveTrack(ctx context.Context, trackID uint) (*models.Track, error) {
	track, err := s.db.GetTrackByID(trackID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotFound
		}
		return nil, fmt.Errorf("failed to look up track: %w", err)
	}

	track.Status = models.TrackStatusApproved
	track.RejectionReason = ""
	if err := s.db.Save(track).Error; err != nil {
		return nil, fmt.Errorf("failed to approve track: %w", err)
	}
	return track, nil
}

// RejectTrack marks a track rejected and leaves a notice for the uploader.
func (s *Service) RejectTrack(ctx context.Context, trackID uint, reason string) (*models.Track, error) {
	track, err := s.db.GetTrackByID(trackID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotFound
		}
		return nil, fmt.Errorf("failed to look up track: %w", err)
	}

	if reason == "" {
		reason = defaultRejectionNotice
	}

	track.Status = models.TrackStatusRejected
	track.RejectionReason = reason
	if err := s.db.Save(track).Error; err != nil {
		return nil, fmt.Errorf("failed to reject track: %w", err)
	}

	err = s.db.Model(&models.User{}).
		Where("id = ?", track.UserID).
		Update("notification_message", defaultRejectionNotice).Error
	if err != nil {
		return nil, fmt.Errorf("failed to notify uploader: %w", err)
	}

	return track, nil
}
