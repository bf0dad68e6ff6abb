package domain

import "fmt"

// Room is a named broadcast partition.
type Room string

const (
	// RoomElevated holds privileged connections only.
	RoomElevated Room = "admin-room"
	// RoomGeneral holds every authenticated connection.
	RoomGeneral Room = "client-room"
)

// AllRooms lists the well-known rooms.
var AllRooms = []Room{RoomElevated, RoomGeneral}

// ParseRoom validates a room name received from outside the process.
func ParseRoom(name string) (Room, error) {
	switch Room(name) {
	case RoomElevated, RoomGeneral:
		return Room(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRoom, name)
	}
}
