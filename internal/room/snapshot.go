package room

import (
	"context"
	"fmt"
	"time"

	"github.com/listening-room-system/pkg/models"
)

// Snapshot is the composed point-in-time view polling clients read. Field
// names and units are part of the client contract: current_position is in
// fractional seconds and updated_at is RFC3339 or null.
type Snapshot struct {
	PlaybackStatus   string             `json:"playback_status"`
	CurrentTrackName *string            `json:"current_track_name"`
	CurrentTrackFile *string            `json:"current_track_file"`
	CurrentPosition  float64            `json:"current_position"`
	IsActive         bool               `json:"is_active"`
	UpdatedAt        *string            `json:"updated_at"`
	Messages         []SnapshotMessage  `json:"messages"`
	Playlist         []SnapshotPlaylist `json:"playlist"`
	MemberCount      int64              `json:"member_count"`
}

type SnapshotMessage struct {
	ID           uint   `json:"id"`
	AuthorName   string `json:"author_name"`
	AuthorAvatar string `json:"author_avatar"`
	CreatedAt    string `json:"created_at"`
	Content      string `json:"content"`
}

type SnapshotPlaylist struct {
	ID      uint   `json:"id"`
	TrackID uint   `json:"track_id"`
	Title   string `json:"title"`
}

// Snapshot composes the full room view for one poll. The live position is
// derived from the stored (status, position, updated_at) triple on every
// call and never cached; there is no ticking process behind it.
func (s *Service) Snapshot(ctx context.Context, code string, user *models.User) (*Snapshot, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if !room.IsActive && room.OwnerID != user.ID {
		return nil, ErrForbidden
	}

	position := room.CurrentPosition
	if room.PlaybackStatus == models.PlaybackPlaying && !room.UpdatedAt.IsZero() {
		position += s.now().Sub(room.UpdatedAt).Seconds()
	}

	messages, err := s.recentMessages(room.ID)
	if err != nil {
		return nil, err
	}

	playlist, err := s.playlistEntries(room.ID)
	if err != nil {
		return nil, err
	}

	memberCount, err := s.MemberCount(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		PlaybackStatus:   room.PlaybackStatus,
		CurrentTrackName: room.CurrentTrackName,
		CurrentTrackFile: room.CurrentTrackFile,
		CurrentPosition:  position,
		IsActive:         room.IsActive,
		Messages:         messages,
		Playlist:         playlist,
		MemberCount:      memberCount,
	}
	if !room.UpdatedAt.IsZero() {
		formatted := room.UpdatedAt.UTC().Format(time.RFC3339)
		snap.UpdatedAt = &formatted
	}
	return snap, nil
}

// recentMessages returns the oldest-of-the-last-50 first: fetch the newest
// 50 by descending time, then reverse for display order.
func (s *Service) recentMessages(roomID uint) ([]SnapshotMessage, error) {
	var rows []models.RoomMessage
	err := s.db.Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(chatHistorySize).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	authors, err := s.usersByID(collectUserIDs(rows))
	if err != nil {
		return nil, err
	}

	messages := make([]SnapshotMessage, 0, len(rows))
	for _, m := range rows {
		msg := SnapshotMessage{
			ID:        m.ID,
			CreatedAt: m.CreatedAt.Format("15:04"),
			Content:   m.Content,
		}
		if author, ok := authors[m.UserID]; ok {
			msg.AuthorName = author.DisplayName()
			msg.AuthorAvatar = author.AvatarURL()
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func collectUserIDs(rows []models.RoomMessage) []uint {
	seen := make(map[uint]bool, len(rows))
	ids := make([]uint, 0, len(rows))
	for _, m := range rows {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func (s *Service) usersByID(ids []uint) (map[uint]*models.User, error) {
	users := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	var rows []*models.User
	if err := s.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get message authors: %w", err)
	}
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}

// playlistEntries lists the room playlist in creation order with track titles.
func (s *Service) playlistEntries(roomID uint) ([]SnapshotPlaylist, error) {
	var entries []models.RoomPlaylistEntry
	err := s.db.Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}

	trackIDs := make([]uint, 0, len(entries))
	for _, e := range entries {
		trackIDs = append(trackIDs, e.TrackID)
	}

	titles := make(map[uint]string, len(trackIDs))
	if len(trackIDs) > 0 {
		var tracks []models.Track
		if err := s.db.Where("id IN ?", trackIDs).Find(&tracks).Error; err != nil {
			return nil, fmt.Errorf("failed to get playlist tracks: %w", err)
		}
		for _, t := range tracks {
			titles[t.ID] = t.Title
		}
	}

	playlist := make([]SnapshotPlaylist, 0, len(entries))
	for _, e := range entries {
		playlist = append(playlist, SnapshotPlaylist{
			ID:      e.ID,
			TrackID: e.TrackID,
			Title:   titles[e.TrackID],
		})
	}
	return playlist, nil
}
