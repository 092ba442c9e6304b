package models

import "time"

// MediaCredential lets one identity join the meeting's room at the media provider.
type MediaCredential struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	RoomName  string    `json:"room_name"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}
