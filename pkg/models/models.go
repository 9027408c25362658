package models

import (
	"time"
)

// Track moderation states. Only approved tracks are playable in rooms.
const (
	TrackStatusPending  = "pending"
	TrackStatusApproved = "approved"
	TrackStatusRejected = "rejected"
)

// Room playback states.
const (
	PlaybackPaused  = "paused"
	PlaybackPlaying = "playing"
)

type User struct {
	ID                  uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Username            string    `json:"username" gorm:"size:64;uniqueIndex;not null"`
	PasswordHash        string    `json:"-" gorm:"size:256;not null"`
	IsAdmin             bool      `json:"is_admin" gorm:"default:false"`
	Nickname            string    `json:"nickname" gorm:"size:32"`
	AvatarPath          string    `json:"-" gorm:"size:256"`
	NotificationMessage string    `json:"-" gorm:"size:256"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AvatarURL returns the public URL for the user's avatar, or a placeholder.
func (u *User) AvatarURL() string {
	if u.AvatarPath != "" {
		return "/static/uploads/avatars/" + u.AvatarPath
	}
	return "https://placehold.co/80x80?text=LR"
}

// DisplayName prefers the nickname and falls back to the login name.
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

type Track struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID           uint      `json:"user_id" gorm:"not null;index"`
	Title            string    `json:"title" gorm:"size:128;not null"`
	OriginalFilename string    `json:"original_filename" gorm:"size:255;not null"`
	StoredFilename   string    `json:"stored_filename" gorm:"size:255;not null"`
	Status           string    `json:"status" gorm:"size:32;default:'pending'"`
	RejectionReason  string    `json:"rejection_reason,omitempty" gorm:"size:255"`
	UploadedAt       time.Time `json:"uploaded_at" gorm:"autoCreateTime;index"`
}

// FileURL returns the public URL for the stored audio file.
func (t *Track) FileURL() string {
	return "/static/uploads/music/" + t.StoredFilename
}

// Room is the authoritative playback state for one listening session.
// When PlaybackStatus is "playing", UpdatedAt marks the instant from which
// elapsed wall-clock time is added to CurrentPosition on every read.
type Room struct {
	ID               uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID          uint      `json:"owner_id" gorm:"not null;index"`
	Name             string    `json:"name" gorm:"size:64;not null"`
	Code             string    `json:"code" gorm:"size:6;uniqueIndex;not null"`
	IsActive         bool      `json:"is_active" gorm:"default:true"`
	PlaybackStatus   string    `json:"playback_status" gorm:"size:16;default:'paused'"`
	CurrentTrackName *string   `json:"current_track_name" gorm:"size:255"`
	CurrentTrackFile *string   `json:"current_track_file" gorm:"size:255"`
	CurrentPosition  float64   `json:"current_position" gorm:"default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type RoomMember struct {
	ID       uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID   uint      `json:"room_id" gorm:"not null;uniqueIndex:uniq_room_member"`
	UserID   uint      `json:"user_id" gorm:"not null;uniqueIndex:uniq_room_member"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

type RoomMessage struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID    uint      `json:"room_id" gorm:"not null;index"`
	UserID    uint      `json:"user_id" gorm:"not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

type RoomPlaylistEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID    uint      `json:"room_id" gorm:"not null;index"`
	TrackID   uint      `json:"track_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

type ListenRecord struct {
	ID       uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID   uint      `json:"user_id" gorm:"not null;index"`
	SongName string    `json:"song_name" gorm:"size:255;not null"`
	PlayedAt time.Time `json:"played_at" gorm:"autoCreateTime;index"`
}

// RoomParticipationRecord is an append-only audit trail of room visits,
// intentionally independent from live membership rows.
type RoomParticipationRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         uint      `json:"user_id" gorm:"not null;index"`
	RoomCode       string    `json:"room_code" gorm:"size:6;not null"`
	ParticipatedAt time.Time `json:"participated_at" gorm:"autoCreateTime"`
}
