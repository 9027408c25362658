package room

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/models"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(gdb))

	db := database.New(gdb)
	return NewService(db, nil), db
}

func createTestUser(t *testing.T, db *database.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, PasswordHash: "x", Nickname: username}
	require.NoError(t, db.CreateUser(user))
	return user
}

func createApprovedTrack(t *testing.T, db *database.DB, owner *models.User, title string) *models.Track {
	t.Helper()
	track := &models.Track{
		UserID:           owner.ID,
		Title:            title,
		OriginalFilename: title + ".mp3",
		StoredFilename:   "music_" + title + ".mp3",
		Status:           models.TrackStatusApproved,
	}
	require.NoError(t, db.CreateTrack(track))
	return track
}

func TestCreateRoomQuota(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")

	for i := 0; i < maxOwnedRooms; i++ {
		rm, err := svc.CreateRoom(ctx, owner, fmt.Sprintf("room %d", i))
		require.NoError(t, err)
		assert.Len(t, rm.Code, codeLength)
		assert.True(t, rm.IsActive)
		assert.Equal(t, models.PlaybackPaused, rm.PlaybackStatus)
	}

	_, err := svc.CreateRoom(ctx, owner, "one too many")
	assert.ErrorIs(t, err, ErrRoomQuotaExceeded)

	// Creation records participation for the owner
	var count int64
	require.NoError(t, db.Model(&models.RoomParticipationRecord{}).
		Where("user_id = ?", owner.ID).Count(&count).Error)
	assert.EqualValues(t, maxOwnedRooms, count)
}

func TestCreateRoomDefaultName(t *testing.T) {
	svc, db := newTestService(t)
	owner := createTestUser(t, db, "bob")

	rm, err := svc.CreateRoom(context.Background(), owner, "  ")
	require.NoError(t, err)
	assert.NotEmpty(t, rm.Name)
}

func TestSwitchTrackResetsPlayback(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	track := createApprovedTrack(t, db, owner, "Song A")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	// Park the room mid-song first so the reset is observable
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &track.ID})
	require.NoError(t, err)
	pos := 42.5
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{Action: "pause", Position: &pos})
	require.NoError(t, err)

	updated, err := svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &track.ID})
	require.NoError(t, err)

	assert.Equal(t, models.PlaybackPlaying, updated.PlaybackStatus)
	require.NotNil(t, updated.CurrentTrackName)
	assert.Equal(t, "Song A", *updated.CurrentTrackName)
	require.NotNil(t, updated.CurrentTrackFile)
	assert.Equal(t, track.StoredFilename, *updated.CurrentTrackFile)
	assert.Equal(t, 0.0, updated.CurrentPosition)

	var listens int64
	require.NoError(t, db.Model(&models.ListenRecord{}).
		Where("user_id = ? AND song_name = ?", owner.ID, "Song A").Count(&listens).Error)
	assert.EqualValues(t, 2, listens)
}

func TestSwitchToUnapprovedTrackRejected(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")

	pending := &models.Track{
		UserID: owner.ID, Title: "Unreviewed", OriginalFilename: "u.mp3",
		StoredFilename: "music_u.mp3", Status: models.TrackStatusPending,
	}
	require.NoError(t, db.CreateTrack(pending))

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &pending.ID})
	assert.ErrorIs(t, err, ErrTrackNotPlayable)

	missing := uint(9999)
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &missing})
	assert.ErrorIs(t, err, ErrTrackNotPlayable)

	// State untouched by the rejected switches
	current, err := svc.GetRoom(ctx, rm.Code)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPaused, current.PlaybackStatus)
	assert.Nil(t, current.CurrentTrackName)
}

func TestPositionDerivation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	track := createApprovedTrack(t, db, owner, "Song A")

	rm, err := svc.CreateRoom(ctx, owner, "sync test")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &track.ID})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPlaying, snap.PlaybackStatus)
	assert.InDelta(t, 0.0, snap.CurrentPosition, 0.01)

	// Five simulated seconds later the derived position follows the clock
	svc.now = func() time.Time { return base.Add(5 * time.Second) }
	snap, err = svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, snap.CurrentPosition, 0.01)

	// While playing the derived position is monotonically non-decreasing
	svc.now = func() time.Time { return base.Add(7 * time.Second) }
	later, err := svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.Greater(t, later.CurrentPosition, snap.CurrentPosition)

	// Pausing at 5 freezes the position regardless of further waiting
	pos := 5.0
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{Action: "pause", Position: &pos})
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	snap, err = svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPaused, snap.PlaybackStatus)
	assert.Equal(t, 5.0, snap.CurrentPosition)

	// Stop clears the whole triple
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{Action: "stop"})
	require.NoError(t, err)

	snap, err = svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPaused, snap.PlaybackStatus)
	assert.Nil(t, snap.CurrentTrackName)
	assert.Nil(t, snap.CurrentTrackFile)
	assert.Equal(t, 0.0, snap.CurrentPosition)
}

func TestToggleUnknownAction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{Action: "rewind"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestJoinRoomDeduplicatesMembership(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)

	var memberships int64
	require.NoError(t, db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", rm.ID, member.ID).Count(&memberships).Error)
	assert.EqualValues(t, 1, memberships)

	var joinMsgs int64
	require.NoError(t, db.Model(&models.RoomMessage{}).
		Where("room_id = ? AND user_id = ? AND content = ?", rm.ID, member.ID, joinMessage).
		Count(&joinMsgs).Error)
	assert.EqualValues(t, 1, joinMsgs)

	// Explicit joins always record participation
	var records int64
	require.NoError(t, db.Model(&models.RoomParticipationRecord{}).
		Where("user_id = ? AND room_code = ?", member.ID, rm.Code).Count(&records).Error)
	assert.EqualValues(t, 2, records)

	// Passive re-entry of an existing member does not
	_, err = svc.EnterRoom(ctx, rm.Code, member)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.RoomParticipationRecord{}).
		Where("user_id = ? AND room_code = ?", member.ID, rm.Code).Count(&records).Error)
	assert.EqualValues(t, 2, records)
}

func TestPassiveEntryOfNewMemberStillRecords(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	visitor := createTestUser(t, db, "carol")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	// First contact through the passive path creates the membership, so it
	// is recorded once even without an explicit join.
	_, err = svc.EnterRoom(ctx, rm.Code, visitor)
	require.NoError(t, err)

	var records int64
	require.NoError(t, db.Model(&models.RoomParticipationRecord{}).
		Where("user_id = ? AND room_code = ?", visitor.ID, rm.Code).Count(&records).Error)
	assert.EqualValues(t, 1, records)
}

func TestJoinClosedRoomRejected(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)
	_, err = svc.SetAvailability(ctx, rm.Code, owner, "close")
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, rm.Code, member)
	assert.ErrorIs(t, err, ErrRoomClosed)

	// The owner can still enter their own closed room
	_, err = svc.EnterRoom(ctx, rm.Code, owner)
	assert.NoError(t, err)
}

func TestLeaveRoom(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.LeaveRoom(ctx, rm.Code, owner), ErrOwnerCannotLeave)
	assert.ErrorIs(t, svc.LeaveRoom(ctx, rm.Code, member), ErrNotAMember)

	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)
	require.NoError(t, svc.LeaveRoom(ctx, rm.Code, member))

	var memberships int64
	require.NoError(t, db.Model(&models.RoomMember{}).
		Where("room_id = ?", rm.ID).Count(&memberships).Error)
	assert.EqualValues(t, 0, memberships)

	var leaveMsgs int64
	require.NoError(t, db.Model(&models.RoomMessage{}).
		Where("room_id = ? AND user_id = ? AND content = ?", rm.ID, member.ID, leaveMessage).
		Count(&leaveMsgs).Error)
	assert.EqualValues(t, 1, leaveMsgs)

	// Leaving stays possible after the room closes
	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)
	_, err = svc.SetAvailability(ctx, rm.Code, owner, "close")
	require.NoError(t, err)
	assert.NoError(t, svc.LeaveRoom(ctx, rm.Code, member))
}

func TestSetAvailability(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	track := createApprovedTrack(t, db, owner, "Song A")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)
	_, err = svc.Toggle(ctx, rm.Code, owner, ToggleRequest{TrackID: &track.ID})
	require.NoError(t, err)

	// Closing pauses playback but keeps the current track
	closed, err := svc.SetAvailability(ctx, rm.Code, owner, "close")
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	assert.Equal(t, models.PlaybackPaused, closed.PlaybackStatus)
	require.NotNil(t, closed.CurrentTrackName)
	assert.Equal(t, "Song A", *closed.CurrentTrackName)

	opened, err := svc.SetAvailability(ctx, rm.Code, owner, "open")
	require.NoError(t, err)
	assert.True(t, opened.IsActive)

	_, err = svc.SetAvailability(ctx, rm.Code, owner, "lock")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestNonOwnerMutationsForbidden(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	stranger := createTestUser(t, db, "mallory")
	track := createApprovedTrack(t, db, owner, "Song A")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	entry, err := svc.AddPlaylistEntry(ctx, rm.Code, owner, track.ID)
	require.NoError(t, err)

	_, err = svc.Toggle(ctx, rm.Code, stranger, ToggleRequest{Action: "play"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SetAvailability(ctx, rm.Code, stranger, "close")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeleteRoom(ctx, rm.Code, stranger), ErrForbidden)
	assert.ErrorIs(t, svc.RemovePlaylistEntry(ctx, rm.Code, stranger, entry.ID), ErrForbidden)

	// Still forbidden when the room is inactive
	_, err = svc.SetAvailability(ctx, rm.Code, owner, "close")
	require.NoError(t, err)
	_, err = svc.Toggle(ctx, rm.Code, stranger, ToggleRequest{Action: "play"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeleteRoom(ctx, rm.Code, stranger), ErrForbidden)
}

func TestDeleteRoomCascades(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")
	track := createApprovedTrack(t, db, owner, "Song A")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, rm.Code, member, "hello")
	require.NoError(t, err)
	_, err = svc.AddPlaylistEntry(ctx, rm.Code, owner, track.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRoom(ctx, rm.Code, owner))

	for _, model := range []interface{}{
		&models.RoomMessage{}, &models.RoomMember{}, &models.RoomPlaylistEntry{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Where("room_id = ?", rm.ID).Count(&count).Error)
		assert.EqualValues(t, 0, count)
	}

	_, err = svc.Snapshot(ctx, rm.Code, owner)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSendMessageValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, rm.Code, owner, "   \t  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	msg, err := svc.SendMessage(ctx, rm.Code, owner, "  hi there  ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Content)
}

func TestPlaylistRules(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")
	ownerTrack := createApprovedTrack(t, db, owner, "Owner Song")
	memberTrack := createApprovedTrack(t, db, member, "Member Song")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)
	other, err := svc.CreateRoom(ctx, owner, "second room")
	require.NoError(t, err)

	// Requester may only add their own approved tracks
	_, err = svc.AddPlaylistEntry(ctx, rm.Code, member, ownerTrack.ID)
	assert.ErrorIs(t, err, ErrTrackNotPlayable)
	_, err = svc.AddPlaylistEntry(ctx, rm.Code, member, memberTrack.ID)
	require.NoError(t, err)

	// Duplicates are allowed
	first, err := svc.AddPlaylistEntry(ctx, rm.Code, owner, ownerTrack.ID)
	require.NoError(t, err)
	_, err = svc.AddPlaylistEntry(ctx, rm.Code, owner, ownerTrack.ID)
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	require.Len(t, snap.Playlist, 3)
	assert.Equal(t, "Member Song", snap.Playlist[0].Title)

	// Entries from another room are rejected, not deleted
	foreign, err := svc.AddPlaylistEntry(ctx, other.Code, owner, ownerTrack.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RemovePlaylistEntry(ctx, rm.Code, owner, foreign.ID), ErrEntryNotFound)

	require.NoError(t, svc.RemovePlaylistEntry(ctx, rm.Code, owner, first.ID))
	snap, err = svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	assert.Len(t, snap.Playlist, 2)
}

func TestSnapshotComposition(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")
	member := createTestUser(t, db, "bob")

	rm, err := svc.CreateRoom(ctx, owner, "listening")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, rm.Code, member)
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, rm.Code, member)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.MemberCount) // member + implicit owner
	assert.True(t, snap.IsActive)
	assert.Nil(t, snap.CurrentTrackName)

	// Join message carries the author's display name
	require.NotEmpty(t, snap.Messages)
	assert.Equal(t, joinMessage, snap.Messages[0].Content)
	assert.Equal(t, "bob", snap.Messages[0].AuthorName)

	// Non-owner loses access once the room closes
	_, err = svc.SetAvailability(ctx, rm.Code, owner, "close")
	require.NoError(t, err)
	_, err = svc.Snapshot(ctx, rm.Code, member)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Snapshot(ctx, rm.Code, owner)
	assert.NoError(t, err)
}

func TestSnapshotChatWindow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "alice")

	rm, err := svc.CreateRoom(ctx, owner, "busy room")
	require.NoError(t, err)

	for i := 1; i <= chatHistorySize+10; i++ {
		_, err := svc.SendMessage(ctx, rm.Code, owner, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	snap, err := svc.Snapshot(ctx, rm.Code, owner)
	require.NoError(t, err)
	require.Len(t, snap.Messages, chatHistorySize)

	// Oldest of the last 50 comes first
	assert.Equal(t, "message 11", snap.Messages[0].Content)
	assert.Equal(t, fmt.Sprintf("message %d", chatHistorySize+10), snap.Messages[len(snap.Messages)-1].Content)
}

func TestRoomCodesAreUniqueDigits(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		owner := createTestUser(t, db, fmt.Sprintf("user%d", i))
		rm, err := svc.CreateRoom(ctx, owner, "room")
		require.NoError(t, err)

		require.Len(t, rm.Code, codeLength)
		for _, ch := range rm.Code {
			assert.True(t, ch >= '0' && ch <= '9')
		}
		assert.False(t, seen[rm.Code])
		seen[rm.Code] = true
	}
}
