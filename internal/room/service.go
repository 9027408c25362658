package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/events"
	"github.com/listening-room-system/pkg/models"
)

const (
	codeLength      = 6
	maxOwnedRooms   = 3
	maxCodeAttempts = 50
	chatHistorySize = 50

	joinMessage  = "entered the room"
	leaveMessage = "left the room"
)

type Service struct {
	db     *database.DB
	events *events.KafkaClient

	// now is swapped out in tests to simulate elapsed playback time.
	now func() time.Time

	// locks serializes read-modify-write cycles per room. Rooms are fully
	// independent, so there is never a reason to lock across rooms.
	locks sync.Map
}

func NewService(db *database.DB, events *events.KafkaClient) *Service {
	return &Service{
		db:     db,
		events: events,
		now:    time.Now,
	}
}

func (s *Service) lockRoom(roomID uint) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// publish sends a room event to Kafka. The database is the source of truth,
// so publish failures are logged and never surfaced to the caller.
func (s *Service) publish(ctx context.Context, eventType events.EventType, roomCode string, userID uint, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRoomEvent(ctx, eventType, roomCode, userID, payload); err != nil {
		log.Printf("Warning: failed to publish %s event: %v", eventType, err)
	}
}

// CreateRoom registers a new room for the owner, capped at three rooms per
// user, and records the owner's participation.
func (s *Service) CreateRoom(ctx context.Context, owner *models.User, name string) (*models.Room, error) {
	count, err := s.db.CountRoomsByOwner(owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	if count >= maxOwnedRooms {
		return nil, ErrRoomQuotaExceeded
	}

	code, err := s.generateUniqueCode()
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = randomRoomName()
	}

	room := &models.Room{
		OwnerID:        owner.ID,
		Name:           name,
		Code:           code,
		IsActive:       true,
		PlaybackStatus: models.PlaybackPaused,
	}

	if err := s.db.CreateRoom(room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	record := &models.RoomParticipationRecord{UserID: owner.ID, RoomCode: code}
	if err := s.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to record participation: %w", err)
	}

	s.publish(ctx, events.EventTypeRoomCreated, code, owner.ID, nil)

	return room, nil
}

func (s *Service) generateUniqueCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := randomRoomCode()
		exists, err := s.db.RoomCodeExists(code)
		if err != nil {
			return "", fmt.Errorf("failed to check room code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errCodeSpaceExhausted
}

func randomRoomCode() string {
	const digits = "0123456789"
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = digits[rand.Intn(len(digits))]
	}
	return string(code)
}

var (
	roomNameAdjectives = []string{"Mellow", "Electric", "Quiet", "Dreamy", "Vivid", "Retro"}
	roomNameNouns      = []string{"Orbit", "Tide", "Breeze", "Sunrise", "Voyage", "Echo"}
)

func randomRoomName() string {
	return roomNameAdjectives[rand.Intn(len(roomNameAdjectives))] + " " + roomNameNouns[rand.Intn(len(roomNameNouns))]
}

// GetRoom resolves a room by its 6-digit code.
func (s *Service) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	room, err := s.db.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// JoinRoom is the explicit join action: it always records participation.
func (s *Service) JoinRoom(ctx context.Context, code string, user *models.User) (*models.Room, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomClosed
	}

	if err := s.attachMember(ctx, room, user, true); err != nil {
		return nil, err
	}
	return room, nil
}

// EnterRoom is the passive entry used when a participant opens a room page:
// membership is still ensured, but silent re-entry does not spam the
// participation history.
func (s *Service) EnterRoom(ctx context.Context, code string, user *models.User) (*models.Room, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if !room.IsActive && room.OwnerID != user.ID {
		return nil, ErrRoomClosed
	}

	if room.OwnerID != user.ID {
		if err := s.attachMember(ctx, room, user, false); err != nil {
			return nil, err
		}
	}
	return room, nil
}

// attachMember ensures a membership row exists. A fresh join appends a
// synthetic chat message, and a participation record is written when the
// join is explicit or the membership is newly created.
func (s *Service) attachMember(ctx context.Context, room *models.Room, user *models.User, recordParticipation bool) error {
	if !room.IsActive || room.OwnerID == user.ID {
		return nil
	}

	mu := s.lockRoom(room.ID)
	defer mu.Unlock()

	var existing models.RoomMember
	err := s.db.Where("room_id = ? AND user_id = ?", room.ID, user.ID).First(&existing).Error
	createdNow := false
	if errors.Is(err, gorm.ErrRecordNotFound) {
		createdNow = true
		err = s.db.Transaction(func(tx *gorm.DB) error {
			member := &models.RoomMember{RoomID: room.ID, UserID: user.ID}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
			msg := &models.RoomMessage{RoomID: room.ID, UserID: user.ID, Content: joinMessage}
			return tx.Create(msg).Error
		})
		if err != nil {
			return fmt.Errorf("failed to attach member: %w", err)
		}
		s.publish(ctx, events.EventTypeUserJoined, room.Code, user.ID, nil)
	} else if err != nil {
		return fmt.Errorf("failed to look up membership: %w", err)
	}

	if recordParticipation || createdNow {
		record := &models.RoomParticipationRecord{UserID: user.ID, RoomCode: room.Code}
		if err := s.db.Create(record).Error; err != nil {
			return fmt.Errorf("failed to record participation: %w", err)
		}
	}
	return nil
}

// LeaveRoom removes the caller's membership. The departure message is written
// before the membership row goes away so a crash between the two cannot lose
// the goodbye.
func (s *Service) LeaveRoom(ctx context.Context, code string, user *models.User) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.OwnerID == user.ID {
		return ErrOwnerCannotLeave
	}

	mu := s.lockRoom(room.ID)
	defer mu.Unlock()

	var membership models.RoomMember
	if err := s.db.Where("room_id = ? AND user_id = ?", room.ID, user.ID).First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotAMember
		}
		return fmt.Errorf("failed to look up membership: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		msg := &models.RoomMessage{RoomID: room.ID, UserID: user.ID, Content: leaveMessage}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Delete(&membership).Error
	})
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	s.publish(ctx, events.EventTypeUserLeft, code, user.ID, nil)
	return nil
}

// SetAvailability opens or closes a room. Closing pauses playback but keeps
// the current track so reopening resumes where the room left off.
func (s *Service) SetAvailability(ctx context.Context, code string, user *models.User, action string) (*models.Room, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != user.ID {
		return nil, ErrForbidden
	}

	mu := s.lockRoom(room.ID)
	defer mu.Unlock()

	switch action {
	case "close":
		cols := map[string]interface{}{
			"is_active":       false,
			"playback_status": models.PlaybackPaused,
			"updated_at":      s.now(),
		}
		if err := s.db.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumns(cols).Error; err != nil {
			return nil, fmt.Errorf("failed to close room: %w", err)
		}
		s.publish(ctx, events.EventTypeRoomClosed, code, user.ID, nil)
	case "open":
		if err := s.db.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumn("is_active", true).Error; err != nil {
			return nil, fmt.Errorf("failed to open room: %w", err)
		}
	default:
		return nil, ErrUnknownAction
	}

	return s.GetRoom(ctx, code)
}

// DeleteRoom destroys a room and everything scoped to it in one transaction.
func (s *Service) DeleteRoom(ctx context.Context, code string, user *models.User) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.OwnerID != user.ID {
		return ErrForbidden
	}

	mu := s.lockRoom(room.ID)
	defer mu.Unlock()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomPlaylistEntry{}).Error; err != nil {
			return err
		}
		return tx.Delete(room).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	s.locks.Delete(room.ID)
	s.publish(ctx, events.EventTypeRoomDeleted, code, user.ID, nil)
	return nil
}

type ToggleRequest struct {
	TrackID  *uint
	Action   string
	Position *float64
}

// Toggle is the owner's single playback mutation: switch to a track, or
// play/pause/stop the current one. Every branch stamps updated_at so the
// read path can extrapolate the live position from it.
func (s *Service) Toggle(ctx context.Context, code string, user *models.User, req ToggleRequest) (*models.Room, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != user.ID {
		return nil, ErrForbidden
	}

	mu := s.lockRoom(room.ID)
	defer mu.Unlock()

	// Reload under the lock so concurrent toggles cannot interleave.
	room, err = s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	switch {
	case req.TrackID != nil:
		if err := s.switchTrack(ctx, room, user, *req.TrackID); err != nil {
			return nil, err
		}
	case req.Action == "stop":
		cols := map[string]interface{}{
			"playback_status":    models.PlaybackPaused,
			"current_track_name": nil,
			"current_track_file": nil,
			"current_position":   0.0,
			"updated_at":         s.now(),
		}
		if err := s.db.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumns(cols).Error; err != nil {
			return nil, fmt.Errorf("failed to stop playback: %w", err)
		}
		s.publish(ctx, events.EventTypePlaybackToggled, code, user.ID, events.PlaybackToggledPayload{Action: "stop"})
	case req.Action == "play" || req.Action == "pause":
		status := models.PlaybackPlaying
		if req.Action == "pause" {
			status = models.PlaybackPaused
		}
		cols := map[string]interface{}{
			"playback_status": status,
			"updated_at":      s.now(),
		}
		// A client-supplied position resyncs the authoritative offset
		// after a seek.
		if req.Position != nil && *req.Position >= 0 {
			cols["current_position"] = *req.Position
		}
		if err := s.db.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumns(cols).Error; err != nil {
			return nil, fmt.Errorf("failed to toggle playback: %w", err)
		}
		payload := events.PlaybackToggledPayload{Action: req.Action}
		if req.Position != nil {
			payload.Position = *req.Position
		}
		s.publish(ctx, events.EventTypePlaybackToggled, code, user.ID, payload)
	default:
		return nil, ErrUnknownAction
	}

	return s.GetRoom(ctx, code)
}

func (s *Service) switchTrack(ctx context.Context, room *models.Room, user *models.User, trackID uint) error {
	track, err := s.db.GetTrackByID(trackID)
	if err != nil || track.Status != models.TrackStatusApproved {
		return ErrTrackNotPlayable
	}

	cols := map[string]interface{}{
		"current_track_name": track.Title,
		"current_track_file": track.StoredFilename,
		"playback_status":    models.PlaybackPlaying,
		"current_position":   0.0,
		"updated_at":         s.now(),
	}
	if err := s.db.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumns(cols).Error; err != nil {
		return fmt.Errorf("failed to switch track: %w", err)
	}

	record := &models.ListenRecord{UserID: user.ID, SongName: track.Title}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to record listen: %w", err)
	}

	s.publish(ctx, events.EventTypeTrackStarted, room.Code, user.ID, events.TrackStartedPayload{
		TrackID:   track.ID,
		TrackName: track.Title,
	})
	return nil
}

// SendMessage appends a chat message to the room's log.
func (s *Service) SendMessage(ctx context.Context, code string, user *models.User, content string) (*models.RoomMessage, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	msg := &models.RoomMessage{RoomID: room.ID, UserID: user.ID, Content: content}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	s.publish(ctx, events.EventTypeMessageSent, code, user.ID, nil)
	return msg, nil
}

// AddPlaylistEntry appends one of the requester's approved tracks to the
// room playlist. Duplicates are allowed on purpose.
func (s *Service) AddPlaylistEntry(ctx context.Context, code string, user *models.User, trackID uint) (*models.RoomPlaylistEntry, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	var track models.Track
	err = s.db.Where("id = ? AND user_id = ? AND status = ?", trackID, user.ID, models.TrackStatusApproved).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotPlayable
		}
		return nil, fmt.Errorf("failed to look up track: %w", err)
	}

	entry := &models.RoomPlaylistEntry{RoomID: room.ID, TrackID: track.ID}
	if err := s.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to add playlist entry: %w", err)
	}
	return entry, nil
}

// RemovePlaylistEntry deletes one entry, owner-only. Entry ids from other
// rooms are rejected rather than silently deleted.
func (s *Service) RemovePlaylistEntry(ctx context.Context, code string, user *models.User, entryID uint) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.OwnerID != user.ID {
		return ErrForbidden
	}

	var entry models.RoomPlaylistEntry
	if err := s.db.First(&entry, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("failed to look up playlist entry: %w", err)
	}
	if entry.RoomID != room.ID {
		return ErrEntryNotFound
	}

	if err := s.db.Delete(&entry).Error; err != nil {
		return fmt.Errorf("failed to remove playlist entry: %w", err)
	}
	return nil
}

// MemberCount counts membership rows plus one for the implicit owner.
func (s *Service) MemberCount(ctx context.Context, roomID uint) (int64, error) {
	var count int64
	if err := s.db.Model(&models.RoomMember{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count + 1, nil
}

// OwnedRooms lists the caller's rooms, newest first.
func (s *Service) OwnedRooms(ctx context.Context, user *models.User) ([]*models.Room, error) {
	var rooms []*models.Room
	if err := s.db.Where("owner_id = ?", user.ID).
		Order("created_at DESC").
		Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list owned rooms: %w", err)
	}
	return rooms, nil
}

// JoinedRooms lists rooms the caller is a member of, most recent join first.
func (s *Service) JoinedRooms(ctx context.Context, user *models.User) ([]*models.Room, error) {
	var rooms []*models.Room
	err := s.db.Model(&models.Room{}).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", user.ID).
		Order("room_members.joined_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}
	return rooms, nil
}
