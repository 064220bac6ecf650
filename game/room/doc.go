// Package room manages multiplayer rooms.
//
// A host connection creates a room for a game and receives a four digit
// password. Sensor-bearing players join with that password until the room
// is full or the host starts the game. The host is not a member of its
// own room; broadcasts within a room reach every member plus the host.
//
// Room lifecycle:
//
//	waiting --join--> waiting --start--> playing --finish--> finished
//	any     --host leaves or disconnects--> deleted
//	any     --older than max age--> deleted (janitor)
//
// Deleting a room frees its password and returns a Departure listing the
// connections that must be told.
package room
