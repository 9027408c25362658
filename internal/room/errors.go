package room

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrTrackNotPlayable  = errors.New("track not found or not approved")
	ErrEntryNotFound     = errors.New("playlist entry not found")
	ErrForbidden         = errors.New("operation allowed for room owner only")
	ErrRoomClosed        = errors.New("room is closed")
	ErrRoomQuotaExceeded = errors.New("room quota exceeded")
	ErrOwnerCannotLeave  = errors.New("owner cannot leave their own room")
	ErrNotAMember        = errors.New("not a member of this room")
	ErrEmptyMessage      = errors.New("message content is empty")
	ErrUnknownAction     = errors.New("unknown action")

	// errCodeSpaceExhausted signals that the 6-digit code space is so full
	// that repeated random draws keep colliding. Treated as a server fault.
	errCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)
