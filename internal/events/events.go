// Package events carries schedule lifecycle notifications over redis
// pub/sub: outbound fan-out after generation, inbound triggers when rooms
// or sub-rooms appear.
package events

import "time"

// Outbound channels.
const (
	ChannelRoomScheduleUpdated    = "room.schedule.updated"
	ChannelSubRoomScheduleCreated = "subroom.schedule.created"
)

// Inbound channels.
const (
	ChannelRoomCreated  = "room.created"
	ChannelSubRoomAdded = "subroom.added"
)

// RoomScheduleUpdated announces that a room's schedule changed.
// HasBeenUsed tells consumers whether any of the room's slots are already
// booked or staffed, so they can skip reconciliation for untouched rooms.
type RoomScheduleUpdated struct {
	RoomID        string    `json:"room_id"`
	HasBeenUsed   bool      `json:"has_been_used"`
	LastGenerated time.Time `json:"last_generated"`
}

// SubRoomScheduleCreated announces new sub-room schedules.
type SubRoomScheduleCreated struct {
	RoomID      string   `json:"room_id"`
	SubRoomIDs  []string `json:"sub_room_ids"`
	HasBeenUsed bool     `json:"has_been_used"`
}

// RoomCreated is received when an external system registers a room.
type RoomCreated struct {
	RoomID      string   `json:"room_id"`
	HasSubRooms bool     `json:"has_sub_rooms"`
	SubRoomIDs  []string `json:"sub_room_ids,omitempty"`
}

// SubRoomAdded is received when sub-rooms are attached to an existing room.
type SubRoomAdded struct {
	RoomID     string   `json:"room_id"`
	SubRoomIDs []string `json:"sub_room_ids"`
}
