package models

// CatalogEntry is a source chat known to the bridge
type CatalogEntry struct {
	ID     int64 `json:"id"`
	Hidden bool  `json:"hidden"`
}

// UserProfile is a destination-side user and the source chats they follow.
// Chats is kept sorted and free of duplicates.
type UserProfile struct {
	Chats    []int64 `json:"chats"`
	Username string  `json:"username,omitempty"`
	Name     string  `json:"name,omitempty"`
}
