package domain

const MaxRoomIDLen = 64

// RoomID names a meeting; any non-empty string up to MaxRoomIDLen works, the
// relay creates rooms on first join.
type RoomID string
