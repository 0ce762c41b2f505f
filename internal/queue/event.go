// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import "time"

// SongChangedQueue is the durable queue song events are published to.
const SongChangedQueue = "songs.changed"

// Actions carried by SongChangedEvent.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// SongChangedEvent is published after a song is created, updated or
// deleted through the API.  Title is empty for deletions.  StoreID is only
// known for creations.
type SongChangedEvent struct {
	Action     string `json:"action"`
	SongID     int64  `json:"song_id"`
	StoreID    string `json:"store_id,omitempty"`
	Title      string `json:"title,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// NewSongChangedEvent stamps an event with the current UTC time.
func NewSongChangedEvent(action string, songID int64) SongChangedEvent {
	return SongChangedEvent{
		Action:     action,
		SongID:     songID,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}
